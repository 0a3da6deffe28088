package services

import (
	"reflect"
	"strings"
	"testing"

	"douly-backend/internal/models"
)

func TestBuildAudit(t *testing.T) {
	history := []models.ChatTurn{
		{Role: models.RoleModel, Text: "Nos tableaux de bord et notre reporting sont uniques."},
		{Role: models.RoleUser, Text: "Je gère une clinique de 40 salariés."},
		{Role: models.RoleUser, Text: "On fait toute la facturation sur Excel et les patients attendent au standard."},
	}

	got := BuildAudit(history)
	want := models.Audit{
		Sector:         "Santé",
		Size:           "PME (10-249)",
		Pains:          []string{"Service client débordé", "Saisie et facturation manuelles"},
		Recommendation: "DOULIA Connect",
		PotentialROI:   "+30%",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected audit\n got: %+v\nwant: %+v", got, want)
	}
}

func TestBuildAudit_RecommendationFollowsPains(t *testing.T) {
	history := []models.ChatTurn{
		{Role: models.RoleUser, Text: "Nos tâches sont répétitives, je veux automatiser la saisie des factures."},
	}
	got := BuildAudit(history)
	if got.Recommendation != "DOULIA Process" {
		t.Errorf("expected DOULIA Process, got %q", got.Recommendation)
	}
	if got.PotentialROI != "+30%" {
		t.Errorf("expected +30%%, got %q", got.PotentialROI)
	}
}

func TestBuildAudit_EmptyConversation(t *testing.T) {
	got := BuildAudit([]models.ChatTurn{{Role: models.RoleUser, Text: "Bonjour"}})
	if got.Sector != "" || got.Size != "" || got.Recommendation != "" || got.PotentialROI != "" {
		t.Errorf("expected empty diagnostic, got %+v", got)
	}
	if got.Pains == nil || len(got.Pains) != 0 {
		t.Errorf("expected empty non-nil pains, got %#v", got.Pains)
	}
}

func TestCompanySize(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"nous sommes 5 personnes", "TPE (1-9)"},
		{"120 employés", "PME (10-249)"},
		{"plus de 800 collaborateurs", "ETI / Grand compte (250+)"},
		{"une petite équipe", ""},
	}
	for _, tc := range tests {
		if got := companySize(tc.text); got != tc.expected {
			t.Errorf("companySize(%q): expected %q, got %q", tc.text, tc.expected, got)
		}
	}
}

func TestAuditHTML(t *testing.T) {
	if got := auditHTML(models.Audit{Pains: []string{}}); got != "" {
		t.Errorf("expected no block for an empty audit, got %q", got)
	}

	got := auditHTML(models.Audit{Sector: "Santé", Pains: []string{"<script>"}, PotentialROI: "+25%"})
	for _, want := range []string{"Secteur:</b> Santé", "&lt;script&gt;", "ROI potentiel:</b> +25%"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "Taille") {
		t.Errorf("empty rows must be skipped, got %q", got)
	}
}
