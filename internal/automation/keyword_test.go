package automation

import (
	"testing"

	"github.com/zulandar/signalbox/internal/models"
)

func TestMatchKeyword(t *testing.T) {
	tests := []struct {
		name    string
		trigger models.KeywordTrigger
		content string
		want    bool
	}{
		{"contains folds case", models.KeywordTrigger{Keywords: []string{"preço"}}, "Qual o PREÇO?", true},
		{"case sensitive rejects", models.KeywordTrigger{Keywords: []string{"preço"}, CaseSensitive: true}, "Qual o PREÇO?", false},
		{"case sensitive accepts", models.KeywordTrigger{Keywords: []string{"preço"}, CaseSensitive: true}, "qual o preço", true},
		{"second keyword", models.KeywordTrigger{Keywords: []string{"valor", "preço"}}, "preço do plano", true},
		{"no match", models.KeywordTrigger{Keywords: []string{"preço"}}, "bom dia", false},
		{"exact equal", models.KeywordTrigger{Keywords: []string{"sim"}, ExactMatch: true}, "sim", true},
		{"exact trims and folds", models.KeywordTrigger{Keywords: []string{"sim"}, ExactMatch: true}, "  SIM ", true},
		{"exact rejects longer", models.KeywordTrigger{Keywords: []string{"sim"}, ExactMatch: true}, "sim, quero", false},
		{"blank keyword ignored", models.KeywordTrigger{Keywords: []string{""}}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchKeyword(&tt.trigger, tt.content); got != tt.want {
				t.Errorf("MatchKeyword(%v, %q) = %v, want %v", tt.trigger.Keywords, tt.content, got, tt.want)
			}
		})
	}
}

func TestMatchKeyword_Nil(t *testing.T) {
	if MatchKeyword(nil, "preço") {
		t.Error("nil trigger should never match")
	}
}
