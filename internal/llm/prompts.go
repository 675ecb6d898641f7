package llm

// Prompt IDs managed in the Keywords AI dashboard. Prompt text, model and
// temperature live there; the agent only sends variables.
const (
	PromptIntakeToPlan   = "090978d2dbab42aa8d47bdbb3fe74b5b"
	PromptFindProduct    = "9d97fe3bb6554e0687e84223e712d687"
	PromptCartExtraction = "b4d6d4f71ba74cda861ec0006ecba50e"
	PromptCartValidator  = "67add938142a4c2583e8d82ebb229cae"
)

var PromptNames = map[string]string{
	PromptIntakeToPlan:   "shopping_intake_to_plan",
	PromptFindProduct:    "find_product",
	PromptCartExtraction: "cart_extraction",
	PromptCartValidator:  "cart_vs_plan_validator",
}

func promptName(id string) string {
	if name, ok := PromptNames[id]; ok {
		return name
	}
	return id
}
