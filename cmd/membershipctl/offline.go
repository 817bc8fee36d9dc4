package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/sparklehome/membership/internal/app/service/billing"
	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/tool"
	"github.com/sparklehome/membership/pkg/types"
)

func newPlansCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Print the configured plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			cat, err := catalog.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cat.List())
		},
	}
}

// newEvaluateCmd runs the entitlement rules against a hypothetical record,
// which is how support reproduces "why did this customer get no discount".
func newEvaluateCmd(e *env) *cobra.Command {
	var (
		tier, status, start, periodEnd, at string
		cancelAtPeriodEnd, autoRenewal     bool
		adminGrant                         bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the entitlement of a membership record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			cat, err := catalog.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			t, err := types.ParseTier(tier)
			if err != nil {
				return err
			}
			now, err := parseTimeFlag("at", at, time.Now())
			if err != nil {
				return err
			}
			end, err := parseTimeFlag("period-end", periodEnd, time.Time{})
			if err != nil {
				return err
			}
			if end.IsZero() {
				return fmt.Errorf("--period-end is required")
			}
			begin, err := parseTimeFlag("start", start, end.AddDate(0, -1, 0))
			if err != nil {
				return err
			}

			m := &models.Membership{
				ID:                tool.NewID(),
				UserID:            "evaluate",
				Tier:              t,
				Status:            types.MembershipStatus(status),
				StartDate:         begin,
				CurrentPeriodEnd:  end,
				CancelAtPeriodEnd: cancelAtPeriodEnd,
				AutoRenewal:       autoRenewal && !cancelAtPeriodEnd,
			}
			if adminGrant {
				g := datatypes.NewJSONType(models.AdminGrant{AdminID: "evaluate", GrantedAt: begin})
				m.GrantedByAdmin = &g
				m.AutoRenewal = false
			}
			if err := m.Validate(); err != nil {
				return err
			}
			ev := entitlement.NewFromConfig(cat, cfg)
			return writeJSON(cmd.OutOrStdout(), ev.Evaluate(m, now))
		},
	}
	f := cmd.Flags()
	f.StringVar(&tier, "tier", string(types.TierSupersaverMonth), "plan tier")
	f.StringVar(&status, "status", string(types.MembershipStatusActive), "stored status")
	f.StringVar(&start, "start", "", "record start (RFC3339), defaults to one month before --period-end")
	f.StringVar(&periodEnd, "period-end", "", "current period end (RFC3339)")
	f.StringVar(&at, "at", "", "evaluation instant (RFC3339), defaults to now")
	f.BoolVar(&cancelAtPeriodEnd, "cancel-at-period-end", false, "cancellation scheduled for period end")
	f.BoolVar(&autoRenewal, "auto-renewal", true, "auto-renewal enabled")
	f.BoolVar(&adminGrant, "admin-grant", false, "record was granted by an admin")
	return cmd
}

// newSignWebhookCmd signs a billing event with the configured webhook secret
// so a local server can be exercised without the payment processor.
func newSignWebhookCmd(e *env) *cobra.Command {
	var typ, recordID, periodEnd, key string
	cmd := &cobra.Command{
		Use:   "sign-webhook",
		Short: "Sign a billing webhook payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Billing.WebhookSecret == "" {
				return fmt.Errorf("billing.webhook_secret is not configured")
			}
			claims := &billing.EventClaims{
				Type:           types.BillingEventType(typ),
				RecordID:       recordID,
				IdempotencyKey: key,
			}
			claims.IssuedAt = time.Now().Unix()
			if periodEnd != "" {
				t, err := parseTimeFlag("period-end", periodEnd, time.Time{})
				if err != nil {
					return err
				}
				claims.NewPeriodEnd = &t
			}
			if claims.IdempotencyKey == "" {
				claims.IdempotencyKey = tool.NewID()
			}
			signed, err := billing.SignPayload(claims, []byte(cfg.Billing.WebhookSecret))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"signed_payload": signed})
		},
	}
	f := cmd.Flags()
	f.StringVar(&typ, "type", string(types.BillingEventTypePaymentSucceeded), "payment_succeeded or payment_failed")
	f.StringVar(&recordID, "record-id", "", "membership record id")
	f.StringVar(&periodEnd, "period-end", "", "new period end (RFC3339) for payment_succeeded")
	f.StringVar(&key, "idempotency-key", "", "idempotency key, random when empty")
	_ = cmd.MarkFlagRequired("record-id")
	return cmd
}
