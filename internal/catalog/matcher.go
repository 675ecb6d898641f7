package catalog

import (
	"context"
	"fmt"
	"log"

	"github.com/VenkatGGG/shopping-agent/internal/llm"
)

// Match is the normalised answer of the find_product prompt. Index is -1
// unless it points into the catalog; ByName marks a match the model named
// without a usable index.
type Match struct {
	Found     bool
	Index     int
	Name      string
	Reasoning string
	ByName    bool
}

type Matcher struct {
	llm       llm.Completer
	sessionID string
	logger    *log.Logger
}

func NewMatcher(completer llm.Completer, sessionID string, logger *log.Logger) *Matcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Matcher{llm: completer, sessionID: sessionID, logger: logger}
}

// Match asks the model which catalog entry fits description. Only transport
// errors are returned; a malformed answer is reported as not found.
func (m *Matcher) Match(ctx context.Context, description string, products []Product) (Match, error) {
	raw, err := m.llm.Complete(ctx, llm.Request{
		PromptID: llm.PromptFindProduct,
		Variables: map[string]string{
			"products_text":    Format(products),
			"item_description": description,
		},
		Metadata:  map[string]any{"stage": "find_product", "item": description},
		SessionID: m.sessionID,
	})
	if err != nil {
		return Match{Index: -1}, fmt.Errorf("match product %q: %w", description, err)
	}

	match := SelectMatch(raw, products)
	if !match.Found {
		m.logger.Printf("no matching product: item=%q reason=%q", description, match.Reasoning)
		return match, nil
	}
	m.logger.Printf("matched product: item=%q index=%d name=%q by_name=%t", description, match.Index, match.Name, match.ByName)
	return match, nil
}

// SelectMatch normalises a raw find_product answer against the catalog. An
// in-range index is authoritative for the product name.
func SelectMatch(raw any, products []Product) Match {
	obj, ok := llm.Object(raw)
	if !ok {
		return Match{Index: -1}
	}
	reasoning, _ := llm.String(obj["reasoning"])
	if found, _ := llm.Bool(obj["found"]); !found {
		return Match{Index: -1, Reasoning: reasoning}
	}

	index := -1
	if value, ok := llm.Int(obj["product_index"]); ok {
		index = int(value)
	}
	name, _ := llm.String(obj["product_name"])

	if index >= 0 && index < len(products) {
		return Match{Found: true, Index: index, Name: products[index].Name, Reasoning: reasoning}
	}
	return Match{Found: true, Index: -1, Name: name, Reasoning: reasoning, ByName: true}
}
