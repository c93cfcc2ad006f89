package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireJobLock serializes a batch job across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will run the job.
func AcquireJobLock(tx *gorm.DB, jobName string) error {
	lockName := fmt.Sprintf("countingjob:%s", jobName)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire job lock for job=%s", jobName)
	}
	return nil
}

func ReleaseJobLock(tx *gorm.DB, jobName string) {
	lockName := fmt.Sprintf("countingjob:%s", jobName)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
