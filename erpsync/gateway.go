package erpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Gateway is the stateless ERP adapter the engines consume. Every call is a
// fallible remote call; callers decide whether a failure degrades or aborts.
type Gateway interface {
	QueryMovements(ctx context.Context, productCode, companyCode, locationCode int, from, to time.Time) ([]Movement, error)
	GetReplacementCost(ctx context.Context, productCode, companyCode, locationCode int) (decimal.NullDecimal, error)
	FindDailyAdjustmentDocument(ctx context.Context, companyCode int, day time.Time, docType int, commentPattern string) (int, error)
	CreateAdjustmentDocument(ctx context.Context, companyCode int, day time.Time, docType int, lines []AdjustmentLine, comment string) (int, error)
	AppendItemsToDocument(ctx context.Context, documentID int, lines []AdjustmentLine) error
	ConfirmDocument(ctx context.Context, documentID int) error

	FetchQueueProducts(ctx context.Context, companyCode, locationCode int) ([]QueueProduct, error)
	FetchLiveStock(ctx context.Context, productCode, companyCode, locationCode int) (*LiveStock, error)
}

// EntryDocType is the operation type used for surplus adjustment notes,
// ExitDocType for shortfall notes. Both have fixed defaults matching the
// production ERP setup but can be repointed per environment.
func EntryDocType() int {
	return intFromEnv("ERP_ENTRY_DOC_TYPE", 221)
}

func ExitDocType() int {
	return intFromEnv("ERP_EXIT_DOC_TYPE", 1121)
}

func intFromEnv(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

type erpGateway struct {
	client *erpClient
	logger *logrus.Logger
}

// NewGateway builds the production gateway from ERP_* env vars.
func NewGateway() (Gateway, error) {
	client, err := newERPClient()
	if err != nil {
		return nil, err
	}
	return &erpGateway{client: client, logger: config.GetLogger()}, nil
}

// QueryMovements pulls stock-affecting documents (plus open reservations,
// operation type 1000) between two dates for one product/location.
func (g *erpGateway) QueryMovements(ctx context.Context, productCode, companyCode, locationCode int, from, to time.Time) ([]Movement, error) {
	sql := fmt.Sprintf(`
		SELECT C.NUNOTA, C.DTMOV, C.CODTIPOPER, I.QTDNEG, C.TIPMOV, 'MOV' AS ORIGIN
		FROM TGFCAB C
		INNER JOIN TGFITE I ON C.NUNOTA = I.NUNOTA
		WHERE I.CODPROD = %d
		  AND C.CODEMP = %d
		  AND I.CODLOCALORIG = %d
		  AND C.DTMOV BETWEEN TO_DATE('%s', 'DD/MM/YYYY') AND TO_DATE('%s', 'DD/MM/YYYY')
		  AND (C.STATUSNOTA = 'L' OR C.CODTIPOPER = 1150)
		UNION ALL
		SELECT C.NUNOTA, C.DTMOV, C.CODTIPOPER, I.QTDNEG, C.TIPMOV, 'RESERVATION' AS ORIGIN
		FROM TGFCAB C
		INNER JOIN TGFITE I ON C.NUNOTA = I.NUNOTA
		WHERE I.CODPROD = %d
		  AND C.CODEMP = %d
		  AND I.CODLOCALORIG = %d
		  AND C.CODTIPOPER = 1000
		  AND C.DTMOV BETWEEN TO_DATE('%s', 'DD/MM/YYYY') AND TO_DATE('%s', 'DD/MM/YYYY')
		  AND C.STATUSNOTA <> 'C'
		ORDER BY DTMOV DESC
	`, productCode, companyCode, locationCode, gatewayDate(from), gatewayDate(to),
		productCode, companyCode, locationCode, gatewayDate(from), gatewayDate(to))

	rows, err := g.client.executeQuery(ctx, sql)
	if err != nil {
		return nil, err
	}

	movements := make([]Movement, 0, len(rows))
	for _, row := range rows {
		m := Movement{
			DocumentId:    toInt(row["NUNOTA"]),
			Date:          toString(row["DTMOV"]),
			OperationType: toInt(row["CODTIPOPER"]),
			Quantity:      toDecimal(row["QTDNEG"]),
		}
		switch {
		case toString(row["ORIGIN"]) == "RESERVATION":
			m.Kind = MovementReservation
		case toString(row["TIPMOV"]) == "E":
			m.Kind = MovementEntry
		default:
			m.Kind = MovementExit
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// GetReplacementCost returns the latest replacement cost (CUSREP) for the
// product, invalid when the ERP has none.
func (g *erpGateway) GetReplacementCost(ctx context.Context, productCode, companyCode, locationCode int) (decimal.NullDecimal, error) {
	sql := fmt.Sprintf(`
		SELECT CUSREP
		FROM TGFCUS
		WHERE CODPROD = %d
		  AND CODEMP = %d
		  AND CODLOCAL = %d
		  AND DTATUAL = (
		      SELECT MAX(DTATUAL)
		      FROM TGFCUS
		      WHERE CODPROD = %d
		        AND CODEMP = %d
		        AND CODLOCAL = %d
		  )
	`, productCode, companyCode, locationCode, productCode, companyCode, locationCode)

	rows, err := g.client.executeQuery(ctx, sql)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if len(rows) == 0 {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NullDecimal{Decimal: toDecimal(rows[0]["CUSREP"]), Valid: true}, nil
}

// FindDailyAdjustmentDocument looks for an existing same-day document with
// the given operation type whose comment matches the worker-tagged pattern.
// Returns 0 when none exists; lookup failures also report 0 so the caller
// falls through to document creation.
func (g *erpGateway) FindDailyAdjustmentDocument(ctx context.Context, companyCode int, day time.Time, docType int, commentPattern string) (int, error) {
	sql := fmt.Sprintf(`
		SELECT NUNOTA
		FROM TGFCAB
		WHERE CODEMP = %d
		  AND DTNEG = TO_DATE('%s', 'DD/MM/YYYY')
		  AND CODTIPOPER = %d
		  AND OBSERVACAO LIKE '%s'
		  AND ROWNUM = 1
	`, companyCode, gatewayDate(day), docType, commentPattern)

	rows, err := g.client.executeQuery(ctx, sql)
	if err != nil {
		config.LogWarn(g.logger, "gateway.go", "FindDailyAdjustmentDocument", "daily document lookup failed", err)
		return 0, nil
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt(rows[0]["NUNOTA"]), nil
}

func adjustmentItemFields(documentID int, line AdjustmentLine) map[string]any {
	item := map[string]any{
		"NUNOTA":       map[string]any{},
		"CODPROD":      fld(line.ProductCode),
		"QTDNEG":       fld(line.Quantity.InexactFloat64()),
		"CODLOCALORIG": fld(line.LocationCode),
		"VLRUNIT":      fld(line.UnitPrice.InexactFloat64()),
		"CODVOL":       fld(line.Unit),
		"PERCDESC":     fld(0),
		"CONTROLE":     fld(" "),
	}
	if documentID != 0 {
		item["NUNOTA"] = fld(documentID)
	}
	return item
}

// CreateAdjustmentDocument posts a new adjustment note via CACSP.incluirNota
// and returns the generated document number.
func (g *erpGateway) CreateAdjustmentDocument(ctx context.Context, companyCode int, day time.Time, docType int, lines []AdjustmentLine, comment string) (int, error) {
	movementFlag := "V"
	if docType == EntryDocType() {
		movementFlag = "C"
	}

	items := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		items = append(items, adjustmentItemFields(0, line))
	}

	requestBody := map[string]any{
		"nota": map[string]any{
			"cabecalho": map[string]any{
				"NUNOTA":      map[string]any{},
				"CODPARC":     fld(1),
				"DTNEG":       fld(gatewayDate(day)),
				"CODTIPOPER":  fld(docType),
				"CODTIPVENDA": fld(0),
				"CODVEND":     fld(0),
				"CODEMP":      fld(companyCode),
				"TIPMOV":      fld(movementFlag),
				"CODTAB":      fld(0),
				"OBSERVACAO":  fld(comment),
			},
			"itens": map[string]any{
				"INFORMARPRECO": "True",
				"item":          items,
			},
		},
	}

	body, err := g.client.invokeService(ctx, "/gateway/v1/mgecom/service.sbr", "CACSP.incluirNota", requestBody)
	if err != nil {
		return 0, err
	}
	return documentNumberFromResponse(body)
}

// AppendItemsToDocument adds lines to an existing adjustment note.
func (g *erpGateway) AppendItemsToDocument(ctx context.Context, documentID int, lines []AdjustmentLine) error {
	items := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		items = append(items, adjustmentItemFields(documentID, line))
	}

	requestBody := map[string]any{
		"nota": map[string]any{
			"cabecalho": map[string]any{
				"NUNOTA": fld(documentID),
			},
			"itens": map[string]any{
				"INFORMARPRECO": "True",
				"item":          items,
			},
		},
	}

	_, err := g.client.invokeService(ctx, "/gateway/v1/mgecom/service.sbr", "CACSP.incluirNota", requestBody)
	return err
}

// ConfirmDocument finalizes the note. An already-confirmed note counts as
// success.
func (g *erpGateway) ConfirmDocument(ctx context.Context, documentID int) error {
	requestBody := map[string]any{
		"nota": map[string]any{
			"NUNOTA": fld(documentID),
		},
	}

	_, err := g.client.invokeService(ctx, "/gateway/v1/mgecom/service.sbr", "CACSP.confirmarNota", requestBody)
	if err != nil && strings.Contains(err.Error(), "confirmada") {
		config.LogWarn(g.logger, "gateway.go", "ConfirmDocument", fmt.Sprintf("document %d was already confirmed", documentID), nil)
		return nil
	}
	return err
}

// FetchQueueProducts runs the brand-value efficiency query: every active
// resale product with its local stock, current replacement cost, lot control
// and a priority index weighting brand value over product value.
func (g *erpGateway) FetchQueueProducts(ctx context.Context, companyCode, locationCode int) ([]QueueProduct, error) {
	sql := fmt.Sprintf(`
		WITH
		CustosVigentes AS (
			SELECT C.CODPROD, C.CUSREP FROM TGFCUS C
			WHERE C.CODEMP = %d
			  AND C.DHALTER = (SELECT MAX(X.DHALTER) FROM TGFCUS X WHERE X.CODPROD = C.CODPROD AND X.CODEMP = C.CODEMP)
		),
		EstoqueAgregado AS (
			SELECT EST.CODPROD, SUM(EST.ESTOQUE) AS ESTOQUE_TOTAL, MAX(NVL(NULLIF(EST.CONTROLE, ' '), ' ')) AS CONTROLE_LOTE,
			       MAX(EST.DTENTRADA) AS DTULTENT
			FROM TGFEST EST
			WHERE EST.CODLOCAL = %d AND EST.CODEMP = %d
			GROUP BY EST.CODPROD
		),
		DadosBase AS (
			SELECT
				P.CODPROD, P.DESCRPROD, TRIM(NVL(P.MARCA, 'SEM MARCA')) AS MARCA, P.CODVOL AS UNIDADE,
				NVL(E.ESTOQUE_TOTAL, 0) AS ESTOQUE,
				NVL(CS.CUSREP, 0) AS CUSTO,
				(NVL(E.ESTOQUE_TOTAL, 0) * NVL(CS.CUSREP, 0)) AS VALOR_ESTOQUE,
				NVL(E.CONTROLE_LOTE, ' ') AS MARCA_CONTROLE,
				NVL(E.DTULTENT, TO_DATE('2000-01-01', 'YYYY-MM-DD')) AS DTULTENT
			FROM TGFPRO P
			LEFT JOIN EstoqueAgregado E ON P.CODPROD = E.CODPROD
			LEFT JOIN CustosVigentes CS ON P.CODPROD = CS.CODPROD
			WHERE P.ATIVO = 'S' AND P.USOPROD = 'R'
		),
		ValorPorMarca AS (
			SELECT MARCA, SUM(VALOR_ESTOQUE) AS VALOR_TOTAL_MARCA
			FROM DadosBase
			GROUP BY MARCA
		)
		SELECT
			B.*,
			V.VALOR_TOTAL_MARCA,
			CASE
				WHEN B.MARCA = 'SEM MARCA' THEN (B.VALOR_ESTOQUE / 10000)
				ELSE ((V.VALOR_TOTAL_MARCA / 1000) + (B.VALOR_ESTOQUE / 1000))
			END AS INDICE_PRIORIDADE
		FROM DadosBase B
		JOIN ValorPorMarca V ON B.MARCA = V.MARCA
		ORDER BY
			CASE WHEN B.MARCA = 'SEM MARCA' THEN 1 ELSE 0 END ASC,
			V.VALOR_TOTAL_MARCA DESC,
			VALOR_ESTOQUE DESC
	`, companyCode, locationCode, companyCode)

	rows, err := g.client.executeQuery(ctx, sql)
	if err != nil {
		return nil, err
	}

	products := make([]QueueProduct, 0, len(rows))
	for _, row := range rows {
		p := QueueProduct{
			ProductCode:   toInt(row["CODPROD"]),
			Description:   toString(row["DESCRPROD"]),
			Brand:         toString(row["MARCA"]),
			Unit:          toString(row["UNIDADE"]),
			LotControl:    strings.TrimSpace(toString(row["MARCA_CONTROLE"])),
			Quantity:      toDecimal(row["ESTOQUE"]),
			UnitCost:      toDecimal(row["CUSTO"]),
			StockValue:    toDecimal(row["VALOR_ESTOQUE"]),
			PriorityIndex: toFloat(row["INDICE_PRIORIDADE"]),
			LastEntryDate: parseGatewayDate(toString(row["DTULTENT"])),
		}
		if p.Unit == "" {
			p.Unit = "UN"
		}
		if p.Description == "" {
			p.Description = "NO DESCRIPTION"
		}
		products = append(products, p)
	}
	return products, nil
}

// FetchLiveStock reads the current balance, cost and lot control for a single
// product at the counted location.
func (g *erpGateway) FetchLiveStock(ctx context.Context, productCode, companyCode, locationCode int) (*LiveStock, error) {
	sql := fmt.Sprintf(`
		WITH
		CustosVigentes AS (
			SELECT C.CODPROD, C.CUSREP FROM TGFCUS C
			WHERE C.CODEMP = %d
			  AND C.DHALTER = (SELECT MAX(X.DHALTER) FROM TGFCUS X WHERE X.CODPROD = C.CODPROD AND X.CODEMP = C.CODEMP)
		),
		EstoqueEspecifico AS (
			SELECT EST.CODPROD, SUM(EST.ESTOQUE) AS ESTOQUE_LOCAL, MAX(NVL(NULLIF(EST.CONTROLE, ' '), '')) AS CONTROLE_LOTE
			FROM TGFEST EST
			WHERE EST.CODLOCAL = '%d' AND EST.CODEMP = %d
			GROUP BY EST.CODPROD
		)
		SELECT
			P.CODPROD, P.DESCRPROD, P.MARCA, P.CODVOL,
			NVL(E.ESTOQUE_LOCAL, 0) AS ESTOQUE,
			NVL(CS.CUSREP, 0) AS CUSTO,
			NVL(E.CONTROLE_LOTE, P.MARCA) AS MARCA_CONTROLE
		FROM TGFPRO P
		LEFT JOIN EstoqueEspecifico E ON P.CODPROD = E.CODPROD
		LEFT JOIN CustosVigentes CS ON P.CODPROD = CS.CODPROD
		WHERE P.CODPROD = %d
	`, companyCode, locationCode, companyCode, productCode)

	rows, err := g.client.executeQuery(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("product %d not found in erp", productCode)
	}

	row := rows[0]
	stock := &LiveStock{
		Quantity:    toDecimal(row["ESTOQUE"]),
		UnitCost:    toDecimal(row["CUSTO"]),
		Description: toString(row["DESCRPROD"]),
		Brand:       toString(row["MARCA"]),
		LotControl:  strings.TrimSpace(toString(row["MARCA_CONTROLE"])),
	}
	stock.StockValue = stock.Quantity.Mul(stock.UnitCost)
	return stock, nil
}

func documentNumberFromResponse(body json.RawMessage) (int, error) {
	var parsed struct {
		PK struct {
			NUNOTA any `json:"NUNOTA"`
		} `json:"pk"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("erp document response decode: %w", err)
	}
	// The gateway sometimes envelopes the pk value, sometimes not.
	if m, ok := parsed.PK.NUNOTA.(map[string]any); ok {
		return toInt(m["$"]), nil
	}
	return toInt(parsed.PK.NUNOTA), nil
}

// parseGatewayDate accepts the date shapes the gateway emits for DATE columns.
func parseGatewayDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"02/01/2006", "02/01/2006 15:04:05", "2006-01-02", "02012006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
