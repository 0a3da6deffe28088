package services

import (
	"fmt"
	"strings"

	"douly-backend/internal/models"
	"douly-backend/internal/profile"
)

// BuildInstruction assembles the system instruction for one turn. The
// capture stage tells the model which contact facet to ask for next.
func BuildInstruction(p models.Profile, contactPhone string) string {
	var b strings.Builder

	// Layer 1: Role
	b.WriteString("Tu es Douly, consultante stratégique de l'agence d'IA DOULIA. ")
	b.WriteString("Tu aides des dirigeants à identifier où l'IA peut leur faire gagner du temps et de l'argent. ")
	b.WriteString("Réponds dans la langue du visiteur, avec un ton chaleureux, concis et professionnel.\n\n")

	// Layer 2: Offer
	b.WriteString("Offres DOULIA:\n")
	for _, pack := range Packs {
		b.WriteString(fmt.Sprintf("- %s: %s\n", pack.Name, pack.Description))
	}
	b.WriteString("\n")

	// Layer 3: Format
	b.WriteString("Format: markdown simple uniquement (**gras**, listes '- ' ou '1. ', tableaux à barres verticales). ")
	b.WriteString("Pas de titres, pas de blocs de code.\n\n")

	// Layer 4: Known visitor
	if p.FullName != "" {
		b.WriteString(fmt.Sprintf("Le visiteur s'appelle %s.\n", p.FullName))
	}
	if p.Company != "" {
		b.WriteString(fmt.Sprintf("Son entreprise: %s.\n", p.Company))
	}
	if p.Email != "" {
		b.WriteString(fmt.Sprintf("Son email: %s.\n", p.Email))
	}

	// Layer 5: Capture stage
	switch profile.NextFacet(p) {
	case profile.FacetName:
		b.WriteString("Étape: demande poliment au visiteur comment il s'appelle avant d'aller plus loin.\n")
	case profile.FacetCompany:
		b.WriteString("Étape: demande au visiteur le nom de son entreprise, dans une question courte et seule.\n")
	case profile.FacetEmail:
		b.WriteString("Étape: propose d'envoyer un récapitulatif personnalisé et demande son adresse email.\n")
	default:
		b.WriteString("Étape: le profil est complet, propose un rendez-vous avec un consultant.\n")
	}

	// Layer 6: Escalation
	if contactPhone != "" {
		b.WriteString(fmt.Sprintf("\nSi tu ne peux pas répondre, oriente vers un humain au %s.\n", contactPhone))
	}

	return b.String()
}
