package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/pkg/provider/llm"
	llmmock "github.com/voxline-ai/voxline/pkg/provider/llm/mock"
)

func TestRespond_NormalReply(t *testing.T) {
	provider := &llmmock.Provider{
		Response: &llm.CompletionResponse{Content: "שלום, איך אפשר לעזור"},
	}
	o := New(provider, Config{Instructions: "אתה נציג של משרד תיווך"})

	reply := o.Respond(context.Background(), Conversation{}, "שלום")
	if reply != "שלום, איך אפשר לעזור." {
		t.Fatalf("reply = %q, want terminator appended", reply)
	}
	if provider.CallCount() != 1 {
		t.Fatalf("model invoked %d times, want 1", provider.CallCount())
	}
}

func TestRespond_FallbackOnError(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("boom")}
	o := New(provider, Config{})

	reply := o.Respond(context.Background(), Conversation{}, "שלום")
	if reply != Normalize(DefaultFallbackReply) {
		t.Fatalf("reply = %q, want fallback", reply)
	}
}

func TestRespond_FallbackOnEmptyReply(t *testing.T) {
	provider := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "  "}}
	o := New(provider, Config{FallbackReply: "סליחה."})

	if reply := o.Respond(context.Background(), Conversation{}, "היי"); reply != "סליחה." {
		t.Fatalf("reply = %q, want configured fallback", reply)
	}
}

func TestRespond_BoundedContext(t *testing.T) {
	provider := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "בסדר."}}
	o := New(provider, Config{MaxContextTurns: 4})

	turns := make([]Turn, 20)
	for i := range turns {
		role := RoleCaller
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns[i] = Turn{Role: role, Text: "turn", At: time.Now()}
	}
	o.Respond(context.Background(), Conversation{Turns: turns}, "אחרון")

	req := provider.CompleteCalls[0].Req
	// 4 history turns + the new caller text.
	if len(req.Messages) != 5 {
		t.Fatalf("sent %d messages, want 5", len(req.Messages))
	}
	if req.Messages[len(req.Messages)-1].Content != "אחרון" {
		t.Fatal("new caller text is not the final message")
	}
}

func TestRespond_CustomerAttributesInjected(t *testing.T) {
	provider := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "היי דנה."}}
	o := New(provider, Config{Instructions: "base"})

	conv := Conversation{Customer: Customer{Name: "דנה", Notes: "מחפשת דירה"}}
	o.Respond(context.Background(), conv, "היי")

	sys := provider.CompleteCalls[0].Req.SystemPrompt
	if !strings.Contains(sys, "דנה") || !strings.Contains(sys, "מחפשת דירה") {
		t.Fatalf("system prompt missing customer attributes: %q", sys)
	}
	if !strings.HasPrefix(sys, "base") {
		t.Fatalf("system prompt does not start with business instructions: %q", sys)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"appends terminator", "שלום, איך אפשר לעזור", "שלום, איך אפשר לעזור."},
		{"keeps question mark", "מה התקציב שלך?", "מה התקציב שלך?"},
		{"strips markdown", "**חשוב** מאוד", "חשוב מאוד."},
		{"collapses whitespace", "שלום   לך \n רב", "שלום לך רב."},
		{"drops filler", "אה, אני חושב אממ שכן", "אני חושב שכן."},
		{"dash becomes comma", "הדירה - אגב - נמכרה", "הדירה, אגב, נמכרה."},
		{"tames punctuation runs", "כן!! באמת??", "כן! באמת?"},
		{"ellipsis", "אני לא בטוח...", "אני לא בטוח."},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractLeadFields(t *testing.T) {
	turns := []Turn{
		{Role: RoleCaller, Text: "אני מחפש דירה באזור רמת גן"},
		{Role: RoleAssistant, Text: "מעולה, מה התקציב?"},
		{Role: RoleCaller, Text: "התקציב שלי הוא 2 מיליון"},
	}
	f := ExtractLeadFields(turns)
	if f.PropertyType != "apartment" {
		t.Errorf("PropertyType = %q, want apartment", f.PropertyType)
	}
	if f.Area != "רמת גן" {
		t.Errorf("Area = %q, want רמת גן", f.Area)
	}
	if !strings.Contains(f.Budget, "מיליון") {
		t.Errorf("Budget = %q, want a מיליון amount", f.Budget)
	}
}

func TestExtractLeadFields_IgnoresAssistantTurns(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Text: "יש לנו פנטהאוז באזור הצפון"},
	}
	if f := ExtractLeadFields(turns); f != (LeadFields{}) {
		t.Fatalf("extracted from assistant turn: %+v", f)
	}
}

func TestExtractLeadFields_LaterMentionWins(t *testing.T) {
	turns := []Turn{
		{Role: RoleCaller, Text: "חשבתי על דירה"},
		{Role: RoleCaller, Text: "בעצם עדיף בית פרטי"},
	}
	if f := ExtractLeadFields(turns); f.PropertyType != "house" {
		t.Fatalf("PropertyType = %q, want house", f.PropertyType)
	}
}
