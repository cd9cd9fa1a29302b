package router

import (
	"fmt"

	"github.com/deskmesh/deskmesh/pkg/agents"
)

// Mode is how a plan step executes relative to its siblings.
type Mode string

const (
	// ModeSequential runs after the previous step, receiving accumulated
	// context from earlier results.
	ModeSequential Mode = "sequential"

	// ModeParallel runs concurrently with the other parallel steps.
	ModeParallel Mode = "parallel"
)

// Specialist keys used by plan steps. The orchestrator maps them to
// endpoints.
const (
	SpecialistData    = "data"
	SpecialistSupport = "support"
	SpecialistBilling = "billing"
)

// Step is one specialist invocation within a plan.
type Step struct {
	Specialist string
	Mode       Mode

	// Priority fixes the aggregation order. Parallel results are merged by
	// priority, never by arrival order.
	Priority int

	// Text is the message sent to the specialist. Empty means the original
	// input, plus accumulated context for sequential steps after the first.
	Text string
}

// Plan is the ordered set of steps for one classified input.
type Plan struct {
	Category Category
	Steps    []Step
}

// BuildPlan turns a classified input into a concrete call plan.
func BuildPlan(category Category, text string) Plan {
	switch category {
	case CategoryMultiIntent:
		// One step per detected intent, both against the data specialist.
		// The history step is rewritten to carry only the customer ID: any
		// echo of the original wording would re-trigger the update intent
		// on the data agent and run the mutation a second time.
		return Plan{
			Category: category,
			Steps: []Step{
				{Specialist: SpecialistData, Mode: ModeParallel, Priority: 1, Text: text},
				{Specialist: SpecialistData, Mode: ModeParallel, Priority: 2,
					Text: fmt.Sprintf("Show the interaction history for customer %d.", agents.ExtractCustomerID(text))},
			},
		}
	case CategoryBilling:
		return Plan{
			Category: category,
			Steps: []Step{
				{Specialist: SpecialistBilling, Mode: ModeSequential, Priority: 1},
			},
		}
	case CategoryDataThenSupport:
		return Plan{
			Category: category,
			Steps: []Step{
				{Specialist: SpecialistData, Mode: ModeSequential, Priority: 1},
				{Specialist: SpecialistSupport, Mode: ModeSequential, Priority: 2},
			},
		}
	case CategoryData:
		return Plan{
			Category: category,
			Steps: []Step{
				{Specialist: SpecialistData, Mode: ModeSequential, Priority: 1},
			},
		}
	default:
		return Plan{
			Category: CategorySupport,
			Steps: []Step{
				{Specialist: SpecialistSupport, Mode: ModeSequential, Priority: 1},
			},
		}
	}
}
