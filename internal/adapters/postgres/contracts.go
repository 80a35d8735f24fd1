package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"contrisk/internal/domain"
	"contrisk/internal/risk"
)

const snapshotQuery = `
    SELECT c.id::text, c.value::float8, c.currency, c.effective_date, c.termination_date, c.extracted_text,
           cl.id::text, cl.credit_score::float8, cl.credit_bureau, cl.defaulted,
           t.id::text, t.body
    FROM contracts c
    LEFT JOIN clients cl ON cl.id = c.client_id
    LEFT JOIN contract_templates t ON t.id = c.template_id
    WHERE c.id = $1
`

// parseContractID rejects ids that cannot name a row, so they surface as not
// found instead of a driver cast error.
func parseContractID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", &risk.NotFoundError{ContractID: id}
	}
	return u.String(), nil
}

// GetContractSnapshot implements ports.ContractDataProvider.
func (db *DB) GetContractSnapshot(ctx context.Context, id string) (risk.Snapshot, error) {
	cid, err := parseContractID(id)
	if err != nil {
		return risk.Snapshot{}, err
	}
	var (
		c                      domain.Contract
		effective, termination pgtype.Date
		clientID, templateID   *string
		client                 domain.Client
		tmpl                   domain.Template
	)
	err = db.Pool.QueryRow(ctx, snapshotQuery, cid).Scan(
		&c.ID, &c.Value, &c.Currency, &effective, &termination, &c.ExtractedText,
		&clientID, &client.CreditScore, &client.CreditBureau, &client.Defaulted,
		&templateID, &tmpl.Body,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return risk.Snapshot{}, &risk.NotFoundError{ContractID: id}
	}
	if err != nil {
		return risk.Snapshot{}, errors.Wrapf(err, "load contract %s", cid)
	}
	c.EffectiveDate = dateOrNil(effective)
	c.TerminationDate = dateOrNil(termination)
	if clientID != nil {
		client.ID = *clientID
		c.Client = &client
	}
	if templateID != nil {
		tmpl.ID = *templateID
		c.Template = &tmpl
	}
	return toSnapshot(c), nil
}

func dateOrNil(d pgtype.Date) *time.Time {
	if !d.Valid || d.InfinityModifier != pgtype.Finite {
		return nil
	}
	t := d.Time
	return &t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// toSnapshot maps stored records to engine input. Contract text wins over the
// template body; client credit data becomes the external signal.
func toSnapshot(c domain.Contract) risk.Snapshot {
	snap := risk.Snapshot{
		ID:               c.ID,
		Value:            c.Value,
		Currency:         c.Currency,
		EffectiveDate:    formatDate(c.EffectiveDate),
		TerminationDate:  formatDate(c.TerminationDate),
		ClientRiskSignal: clientSignal(c.Client),
	}
	switch {
	case c.ExtractedText != nil && strings.TrimSpace(*c.ExtractedText) != "":
		snap.ClauseText = *c.ExtractedText
	case c.Template != nil && c.Template.Body != nil:
		snap.ClauseText = *c.Template.Body
	}
	return snap
}

func clientSignal(cl *domain.Client) *risk.ExternalSignal {
	if cl == nil || (cl.CreditScore == nil && cl.Defaulted == nil) {
		return nil
	}
	sig := &risk.ExternalSignal{
		Source:  "internal",
		Kind:    "credit",
		Details: map[string]risk.Value{"clientId": risk.StringValue(cl.ID)},
	}
	if cl.CreditBureau != nil && strings.TrimSpace(*cl.CreditBureau) != "" {
		sig.Source = strings.TrimSpace(*cl.CreditBureau)
	}
	if cl.CreditScore != nil {
		sig.Details["score"] = risk.NumberValue(*cl.CreditScore)
	}
	if cl.Defaulted != nil {
		sig.Details["defaulted"] = risk.BoolValue(*cl.Defaulted)
	}
	return sig
}

// SaveRiskAnalysis implements ports.RiskResultSink. The contract row and its
// history entry are written together.
func (db *DB) SaveRiskAnalysis(ctx context.Context, id string, res risk.Result) (err error) {
	cid, err := parseContractID(id)
	if err != nil {
		return err
	}
	analysis, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode risk analysis")
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return errors.Wrap(err, "encode warnings")
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
        UPDATE contracts
        SET risk_score=$2, risk_level=$3, risk_analysis=$4, risk_analyzed_at=now()
        WHERE id=$1
    `, cid, res.Score, string(res.RiskLevel), analysis)
	if err != nil {
		return errors.Wrapf(err, "update contract %s", cid)
	}
	if tag.RowsAffected() == 0 {
		return &risk.NotFoundError{ContractID: id}
	}
	if _, err = tx.Exec(ctx, `
        INSERT INTO contract_risk_history (contract_id, score, risk_level, warnings, analysis)
        VALUES ($1, $2, $3, $4, $5)
    `, cid, res.Score, string(res.RiskLevel), warningsJSON, analysis); err != nil {
		return errors.Wrapf(err, "append history for %s", cid)
	}
	return nil
}

// GetRiskAnalysis implements ports.RiskResultReader.
func (db *DB) GetRiskAnalysis(ctx context.Context, id string) (risk.Result, bool, error) {
	cid, err := parseContractID(id)
	if err != nil {
		return risk.Result{}, false, err
	}
	var raw []byte
	err = db.Pool.QueryRow(ctx, `SELECT risk_analysis FROM contracts WHERE id = $1`, cid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return risk.Result{}, false, &risk.NotFoundError{ContractID: id}
	}
	if err != nil {
		return risk.Result{}, false, errors.Wrapf(err, "load risk analysis %s", cid)
	}
	if len(raw) == 0 {
		return risk.Result{}, false, nil
	}
	var res risk.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return risk.Result{}, false, errors.Wrapf(err, "decode risk analysis %s", cid)
	}
	return res, true, nil
}

func newNotification(contractID string, res risk.Result) domain.Notification {
	return domain.Notification{
		ContractRef: contractID,
		Kind:        "contract_risk",
		Level:       string(res.RiskLevel),
		Score:       res.Score,
		Message:     fmt.Sprintf("Contrato com risco %s (pontuação %d)", risk.LabelFor(res.RiskLevel), res.Score),
	}
}

// NotifyRisk implements ports.Notifier.
func (db *DB) NotifyRisk(ctx context.Context, id string, res risk.Result) error {
	cid, err := parseContractID(id)
	if err != nil {
		return err
	}
	n := newNotification(cid, res)
	_, err = db.Pool.Exec(ctx, `
        INSERT INTO notifications (contract_id, kind, risk_level, score, message)
        VALUES ($1, $2, $3, $4, $5)
    `, n.ContractRef, n.Kind, n.Level, n.Score, n.Message)
	if err != nil {
		return missingContract(err, id, "insert notification")
	}
	return nil
}

// missingContract turns a foreign key violation on contract_id into a not found error.
func missingContract(err error, id, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return &risk.NotFoundError{ContractID: id}
	}
	return errors.Wrapf(err, "%s for %s", op, id)
}
