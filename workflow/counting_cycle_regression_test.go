package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
	"bitbucket.org/warelogic/counting_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full counting cycle against a real MySQL: assignment, escalation,
// not-found and supervisor resolution. The ERP gateway is nil throughout;
// context enrichment must degrade, never fail.
func TestCountingCycleRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "counting_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	workerA := createWorker(t, "ana", "Ana Souza")
	workerB := createWorker(t, "bruno", "Bruno Lima")

	t.Run("recount then audit escalation", func(t *testing.T) {
		item := createItem(t, 1001, "ACME", "")
		createSnapshot(t, 1001, 150)

		// Idempotent re-entry: two selects without a count return the same item.
		first, err := workflow.SelectNext(ctx, db, logger, workerA.ID)
		if err != nil || first == nil {
			t.Fatalf("SelectNext(A): %v, item=%v", err, first)
		}
		if first.ID != item.ID {
			t.Fatalf("expected item %d; got %d", item.ID, first.ID)
		}
		again, err := workflow.SelectNext(ctx, db, logger, workerA.ID)
		if err != nil || again == nil || again.ID != first.ID {
			t.Fatalf("re-entry must return the held item; got %v, %v", again, err)
		}

		// 160 vs 150 is a 6.66% divergence: forced recount.
		result, err := workflow.RegisterCount(ctx, db, logger, nil, workerA.ID, item.ID, decimal.NewFromInt(160), time.Now())
		if err != nil {
			t.Fatalf("RegisterCount(A): %v", err)
		}
		if result.Action != workflow.ActionAutoRecount {
			t.Fatalf("expected AUTO_RECOUNT; got %v", result.Action)
		}

		var reloaded models.QueueItem
		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusPending || reloaded.PriorityManual != models.PriorityRecountJump || reloaded.Recounts != 1 {
			t.Fatalf("unexpected item state after auto recount: %+v", reloaded)
		}
		if reloaded.LockedBy != nil {
			t.Fatal("lock must be released after submission")
		}

		// A second worker recounts; any remaining divergence blocks for audit.
		picked, err := workflow.SelectNext(ctx, db, logger, workerB.ID)
		if err != nil || picked == nil || picked.ID != item.ID {
			t.Fatalf("SelectNext(B) should hand over the recount item; got %v, %v", picked, err)
		}
		result, err = workflow.RegisterCount(ctx, db, logger, nil, workerB.ID, item.ID, decimal.NewFromInt(145), time.Now())
		if err != nil {
			t.Fatalf("RegisterCount(B): %v", err)
		}
		if result.Action != workflow.ActionAuditBlocked {
			t.Fatalf("expected AUDIT_BLOCKED on divergent recount; got %v", result.Action)
		}
		if result.Count.Type != models.CountTypeRecount {
			t.Fatalf("second submission must be a RECOUNT; got %v", result.Count.Type)
		}
		if result.Divergence == nil || !strings.HasPrefix(result.Divergence.Notes, "Recount confirmed divergence.") {
			t.Fatalf("expected recount-confirms note; got %+v", result.Divergence)
		}

		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusAuditLocked {
			t.Fatalf("expected AUDIT_LOCKED; got %v", reloaded.Status)
		}

		// Supervisor writes the whole thing off: full counter reset.
		err = workflow.ResolveDivergence(ctx, db, logger, result.Divergence.ID, workflow.ResolutionFinalizeAnalysis, "analysis complete")
		if err != nil {
			t.Fatalf("ResolveDivergence: %v", err)
		}
		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusPending ||
			reloaded.PriorityManual != 0 || reloaded.PriorityBase != 0 ||
			reloaded.Recounts != 0 || reloaded.NotFoundCount != 0 || reloaded.LastNotFoundBy != nil {
			t.Fatalf("FINALIZE_ANALYSIS must reset all counters: %+v", reloaded)
		}

		var divergence models.Divergence
		if err := db.First(&divergence, result.Divergence.ID).Error; err != nil {
			t.Fatalf("reload divergence: %v", err)
		}
		if divergence.Status != models.DivergenceStatusDone || divergence.Decision == nil || *divergence.Decision != models.DecisionFinalizeAnalysis {
			t.Fatalf("unexpected divergence state: %+v", divergence)
		}
	})

	t.Run("exact count completes", func(t *testing.T) {
		item := createItem(t, 1002, "BOLT", "")
		createSnapshot(t, 1002, 80)

		picked, err := workflow.SelectNext(ctx, db, logger, workerA.ID)
		if err != nil || picked == nil || picked.ID != item.ID {
			t.Fatalf("SelectNext: %v, %v", picked, err)
		}
		result, err := workflow.RegisterCount(ctx, db, logger, nil, workerA.ID, item.ID, decimal.NewFromInt(80), time.Now())
		if err != nil {
			t.Fatalf("RegisterCount: %v", err)
		}
		if result.Action != workflow.ActionCompleted {
			t.Fatalf("expected COMPLETED; got %v", result.Action)
		}
		if result.Count.AnalysisStatus != models.AnalysisStatusOkAuto {
			t.Fatalf("expected OK_AUTO; got %v", result.Count.AnalysisStatus)
		}

		var reloaded models.QueueItem
		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusDone || reloaded.OkCounts != 1 {
			t.Fatalf("unexpected item state after exact count: %+v", reloaded)
		}
	})

	t.Run("zero baseline yields total divergence", func(t *testing.T) {
		item := createItem(t, 1003, "CRATE", "")
		// No snapshot at all for this product.

		if _, err := workflow.SelectNext(ctx, db, logger, workerB.ID); err != nil {
			t.Fatalf("SelectNext: %v", err)
		}
		result, err := workflow.RegisterCount(ctx, db, logger, nil, workerB.ID, item.ID, decimal.NewFromInt(5), time.Now())
		if err != nil {
			t.Fatalf("RegisterCount: %v", err)
		}
		if result.Count.DivergencePercent != 100 {
			t.Fatalf("expected 100%% divergence against zero baseline; got %v", result.Count.DivergencePercent)
		}
		if result.Action != workflow.ActionAutoRecount {
			t.Fatalf("expected AUTO_RECOUNT on first 100%% divergence; got %v", result.Action)
		}
	})

	t.Run("not found two strikes", func(t *testing.T) {
		item := createItem(t, 1004, "DRUM", "")
		createSnapshot(t, 1004, 40)

		picked, err := workflow.SelectNext(ctx, db, logger, workerA.ID)
		if err != nil || picked == nil || picked.ID != item.ID {
			t.Fatalf("SelectNext(A): %v, %v", picked, err)
		}
		result, err := workflow.ReportNotFound(ctx, db, logger, nil, workerA.ID, item.ID)
		if err != nil {
			t.Fatalf("ReportNotFound(A): %v", err)
		}
		if result.Escalated {
			t.Fatal("first report must not escalate")
		}

		// The same worker picks it back up and tries again: rejected.
		picked, err = workflow.SelectNext(ctx, db, logger, workerA.ID)
		if err != nil || picked == nil || picked.ID != item.ID {
			t.Fatalf("SelectNext(A) second: %v, %v", picked, err)
		}
		if _, err := workflow.ReportNotFound(ctx, db, logger, nil, workerA.ID, item.ID); err != workflow.ErrDuplicateAction {
			t.Fatalf("expected ErrDuplicateAction; got %v", err)
		}

		// Release A's lock so the second worker can take over.
		if _, err := models.ReleaseStaleLocks(ctx, db, time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("ReleaseStaleLocks: %v", err)
		}

		// A supervisor bump in the meantime must not survive the escalation.
		if err := db.Model(&models.QueueItem{}).Where("id = ?", item.ID).Update("priority_manual", 500).Error; err != nil {
			t.Fatalf("bump priority: %v", err)
		}

		picked, err = workflow.SelectNext(ctx, db, logger, workerB.ID)
		if err != nil || picked == nil || picked.ID != item.ID {
			t.Fatalf("SelectNext(B): %v, %v", picked, err)
		}
		result, err = workflow.ReportNotFound(ctx, db, logger, nil, workerB.ID, item.ID)
		if err != nil {
			t.Fatalf("ReportNotFound(B): %v", err)
		}
		if !result.Escalated || result.Divergence == nil || result.Divergence.Severity != models.DivergenceSeverityHigh {
			t.Fatalf("two distinct workers must escalate with a HIGH divergence: %+v", result)
		}

		var reloaded models.QueueItem
		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusAuditLocked || reloaded.NotFoundCount != 2 {
			t.Fatalf("unexpected item state after escalation: %+v", reloaded)
		}
		if reloaded.PriorityBase != 0 || reloaded.PriorityManual != 0 {
			t.Fatalf("escalation must zero priorities so a later recount starts clean: %+v", reloaded)
		}

		var count models.Count
		if err := db.Where("queue_item_id = ? AND type = ?", item.ID, models.CountTypeNotFound).First(&count).Error; err != nil {
			t.Fatalf("fetch NOT_FOUND count: %v", err)
		}
		if !count.QuantityCounted.IsZero() || count.Divergence.Cmp(decimal.NewFromInt(-40)) != 0 || count.DivergencePercent != 100 {
			t.Fatalf("unexpected NOT_FOUND count fields: %+v", count)
		}
	})

	t.Run("problem report on unclaimed item", func(t *testing.T) {
		item := createItem(t, 1006, "PIPE", "")

		// A worker walking the aisle may flag an item without claiming it.
		err := workflow.ReportProblem(ctx, db, logger, workerA.ID, item.ID, "label missing, cannot identify product")
		if err != nil {
			t.Fatalf("ReportProblem on a pending item: %v", err)
		}

		var reloaded models.QueueItem
		if err := db.First(&reloaded, item.ID).Error; err != nil {
			t.Fatalf("reload item: %v", err)
		}
		if reloaded.Status != models.QueueStatusReported {
			t.Fatalf("expected REPORTED; got %v", reloaded.Status)
		}
		var count models.Count
		if err := db.Where("queue_item_id = ? AND type = ?", item.ID, models.CountTypeProblemReport).First(&count).Error; err != nil {
			t.Fatalf("fetch PROBLEM_REPORT count: %v", err)
		}
		if count.Notes != "label missing, cannot identify product" || count.AnalysisStatus != models.AnalysisStatusResolved {
			t.Fatalf("unexpected problem count: %+v", count)
		}

		// An item someone else is counting stays off limits.
		other := createItem(t, 1007, "PIPE", "")
		if won, err := models.TryLockQueueItem(ctx, db, other.ID, workerB.ID); err != nil || !won {
			t.Fatalf("lock for B: %v, %v", won, err)
		}
		if err := workflow.ReportProblem(ctx, db, logger, workerA.ID, other.ID, "x"); err != workflow.ErrInvalidState {
			t.Fatalf("expected ErrInvalidState on someone else's item; got %v", err)
		}
	})

	t.Run("lock acquisition is compare and swap", func(t *testing.T) {
		item := createItem(t, 1005, "EDGE", "")

		won, err := models.TryLockQueueItem(ctx, db, item.ID, workerA.ID)
		if err != nil || !won {
			t.Fatalf("first lock must win: %v, %v", won, err)
		}
		won, err = models.TryLockQueueItem(ctx, db, item.ID, workerB.ID)
		if err != nil {
			t.Fatalf("second lock attempt errored: %v", err)
		}
		if won {
			t.Fatal("second lock attempt must lose the race")
		}

		// Counting against someone else's lock is a precondition violation.
		if _, err := workflow.RegisterCount(ctx, db, logger, nil, workerB.ID, item.ID, decimal.NewFromInt(1), time.Now()); err != workflow.ErrInvalidState {
			t.Fatalf("expected ErrInvalidState; got %v", err)
		}
	})
}

func createWorker(t *testing.T, login, name string) *models.Worker {
	t.Helper()
	isActive := true
	w := models.Worker{Login: login, Name: name, Password: "x", Role: models.WorkerRoleOperator, IsActive: &isActive}
	if err := config.GetDB().Create(&w).Error; err != nil {
		t.Fatalf("create worker %s: %v", login, err)
	}
	return &w
}

func createItem(t *testing.T, productCode int, brand, lot string) *models.QueueItem {
	t.Helper()
	item := models.QueueItem{
		ProductCode:  productCode,
		LocationCode: 10010000,
		CompanyCode:  1,
		Brand:        brand,
		LotControl:   lot,
		Unit:         "UN",
		Status:       models.QueueStatusPending,
		PriorityBase: 10,
	}
	if err := config.GetDB().Create(&item).Error; err != nil {
		t.Fatalf("create queue item %d: %v", productCode, err)
	}
	return &item
}

func createSnapshot(t *testing.T, productCode int, quantity int64) {
	t.Helper()
	now := time.Now()
	snap := models.StockSnapshot{
		ReferenceDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		CompanyCode:   1,
		LocationCode:  10010000,
		ProductCode:   productCode,
		Quantity:      decimal.NewFromInt(quantity),
		UnitCost:      decimal.NewFromInt(10),
		StockValue:    decimal.NewFromInt(quantity * 10),
	}
	if err := config.GetDB().Create(&snap).Error; err != nil {
		t.Fatalf("create snapshot %d: %v", productCode, err)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("counting-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=counting_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
