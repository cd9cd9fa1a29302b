package agents

import (
	"context"
	"fmt"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// BillingAgent answers payment, invoice, and refund inquiries. It does not
// touch the tool server; the reply is a domain response consumed by the
// router.
type BillingAgent struct {
	url string
}

// NewBillingAgent creates the billing specialist.
func NewBillingAgent(url string) *BillingAgent {
	return &BillingAgent{url: url}
}

func (b *BillingAgent) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Payment Agent",
		Description:        "Provides assistance for payment, invoices, and refund inquiries.",
		Version:            "1.0.0",
		URL:                b.url,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Provider:           &a2a.AgentProvider{Organization: "deskmesh"},
		Skills: []a2a.AgentSkill{
			{
				ID:          "payment",
				Name:        "Payment Services",
				Description: "Supports billing problems and refund workflows.",
				Tags:        []string{"billing", "payments"},
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
				Examples:    []string{"Issue refund", "Send invoice", "Payment failed"},
			},
		},
	}
}

func (b *BillingAgent) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	text := a2a.ExtractText(message)
	reply := a2a.NewAgentMessage(fmt.Sprintf(
		"Payment Agent Response:\nI handle refunds, invoice issues, failed payments, and account charges.\nYour request: %s",
		text,
	))
	return &reply, nil
}
