package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"douly-backend/internal/models"
)

type keywordRule struct {
	label    string
	keywords []string
}

var sectorRules = []keywordRule{
	{"Santé", []string{"clinique", "hôpital", "hopital", "pharmacie", "cabinet médical", "santé", "sante", "patients"}},
	{"Immobilier", []string{"immobilier", "agence immobilière", "locataires", "biens"}},
	{"Commerce & Retail", []string{"boutique", "magasin", "e-commerce", "ecommerce", "commerce", "retail"}},
	{"Finance & Assurance", []string{"banque", "assurance", "microfinance", "comptable", "expert-comptable", "fintech"}},
	{"Logistique & Transport", []string{"logistique", "transport", "livraison", "entrepôt", "flotte"}},
	{"Éducation", []string{"école", "ecole", "université", "formation", "étudiants", "élèves"}},
	{"Restauration & Hôtellerie", []string{"restaurant", "hôtel", "hotel", "traiteur", "réservations"}},
	{"Industrie", []string{"usine", "industrie", "production", "fabrication"}},
}

// painRules map a pain to the pack that answers it.
var painRules = []struct {
	keywordRule
	packID int
}{
	{keywordRule{"Service client débordé", []string{"service client", "répondre aux clients", "messages clients", "whatsapp", "standard"}}, 1},
	{keywordRule{"Prospects perdus faute de réponse", []string{"prospects", "leads", "relance", "relances"}}, 1},
	{keywordRule{"Saisie et facturation manuelles", []string{"facturation", "factures", "saisie", "excel", "manuellement", "à la main"}}, 2},
	{keywordRule{"Tâches répétitives chronophages", []string{"répétitif", "répétitives", "perte de temps", "automatiser", "automatisation"}}, 2},
	{keywordRule{"Décisions sans visibilité sur les données", []string{"reporting", "tableau de bord", "dashboard", "données", "statistiques", "kpi"}}, 3},
}

var sizeRe = regexp.MustCompile(`(\d+)\s*(salariés|salaries|employés|employes|personnes|collaborateurs|employees|people)`)

const (
	baseROI    = 20
	roiPerPain = 5
	maxROI     = 45
)

// BuildAudit derives the diagnostic from what the visitor wrote. Only user
// turns are read, so the assistant's own pitch never counts as a pain.
func BuildAudit(history []models.ChatTurn) models.Audit {
	var b strings.Builder
	for _, turn := range history {
		if turn.Role == models.RoleUser {
			b.WriteString(strings.ToLower(turn.Text))
			b.WriteString("\n")
		}
	}
	text := b.String()

	audit := models.Audit{Pains: []string{}}
	for _, rule := range sectorRules {
		if rule.matches(text) {
			audit.Sector = rule.label
			break
		}
	}
	audit.Size = companySize(text)

	votes := make(map[int]int)
	for _, rule := range painRules {
		if rule.matches(text) {
			audit.Pains = append(audit.Pains, rule.label)
			votes[rule.packID]++
		}
	}
	if len(audit.Pains) == 0 {
		return audit
	}

	best := 0
	for _, pack := range Packs {
		if votes[pack.ID] > votes[best] {
			best = pack.ID
		}
	}
	if pack, ok := FindPack(best); ok {
		audit.Recommendation = pack.Name
	}

	roi := baseROI + roiPerPain*len(audit.Pains)
	if roi > maxROI {
		roi = maxROI
	}
	audit.PotentialROI = fmt.Sprintf("+%d%%", roi)
	return audit
}

func (r keywordRule) matches(text string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func companySize(text string) string {
	m := sizeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	switch {
	case n < 10:
		return "TPE (1-9)"
	case n < 250:
		return "PME (10-249)"
	default:
		return "ETI / Grand compte (250+)"
	}
}
