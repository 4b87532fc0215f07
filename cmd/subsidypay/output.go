package main

import (
	"fmt"
	"strings"

	"subsidypay/internal/access"
)

func formatOutcome(outcome access.Outcome) string {
	var b strings.Builder
	summary := access.Summary(outcome)

	switch o := outcome.(type) {
	case *access.ServiceExecuted:
		fmt.Fprintf(&b, "%s %s\n", green("✔"), bold(summary))
		field(&b, "payment", o.PaymentMode)
		field(&b, "sponsor", o.SponsoredBy)
		field(&b, "tx", o.TxHash)
		if o.Output != "" {
			fmt.Fprintf(&b, "\n%s\n", o.Output)
		}
	case *access.TaskRequired:
		fmt.Fprintf(&b, "%s %s\n", yellow("●"), bold(summary))
		field(&b, "campaign", o.CampaignID)
		field(&b, "subsidy", fmt.Sprintf("$%d.%02d", o.SubsidyAmountCents/100, o.SubsidyAmountCents%100))
		field(&b, "instructions", o.Instructions)
		if len(o.TaskOptions) > 0 {
			field(&b, "provide", strings.Join(o.TaskOptions, ", "))
		}
		if o.AlreadyCompleted {
			field(&b, "note", "task already completed; retry the run")
		}
	case *access.PaymentRequired:
		fmt.Fprintf(&b, "%s %s\n", cyan("$"), bold(summary))
		field(&b, "amount", fmt.Sprintf("%d cents", o.Requirement.AmountCents))
		field(&b, "header", o.Requirement.AcceptedHeader)
		field(&b, "next", o.Requirement.NextStep)
		if o.Terms != nil {
			field(&b, "pay to", o.Terms.PayTo)
			field(&b, "asset", o.Terms.Asset)
			field(&b, "network", o.Terms.Network)
			field(&b, "max amount", o.Terms.MaxAmountRequired)
		}
	case *access.Failure:
		fmt.Fprintf(&b, "%s %s\n", red("✘"), bold(summary))
		field(&b, "code", o.Code)
	}
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s %s\n", gray(name+":"), value)
}
