package wizard

import (
	"fmt"
	"strings"
)

// Step is a named state of the order-creation flow. Steps only ever move
// forward through explicit completion actions; backward jumps are allowed
// to any step already reached.
type Step int

const (
	StepCustomer Step = iota
	StepProducts
	StepLogistics
	StepReview
	StepPayment
)

var stepNames = map[Step]string{
	StepCustomer:  "customer",
	StepProducts:  "products",
	StepLogistics: "logistics",
	StepReview:    "review",
	StepPayment:   "payment",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// IsValid reports whether the value names a real step.
func (s Step) IsValid() bool {
	_, ok := stepNames[s]
	return ok
}

// ParseStep maps a wire name back onto a step.
func ParseStep(value string) (Step, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for step, name := range stepNames {
		if name == needle {
			return step, nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", value)
}

// transitions is the forward edge set: the single step each state may
// advance into. Every edge is guarded by a precondition checked in
// Advance; backward movement bypasses guards but never loses data.
var transitions = map[Step]Step{
	StepCustomer:  StepProducts,
	StepProducts:  StepLogistics,
	StepLogistics: StepReview,
	StepReview:    StepPayment,
}
