package services

import "douly-backend/internal/models"

// Packs is the DOULIA catalogue offered as conversation starters.
var Packs = []models.Pack{
	{
		ID:          1,
		Name:        "DOULIA Connect",
		Icon:        "🌐",
		Description: "Intégration de chatbots sur WhatsApp et votre site internet.",
	},
	{
		ID:          2,
		Name:        "DOULIA Process",
		Icon:        "⚙️",
		Description: "Automatisez vos tâches répétitives pour gagner un temps précieux.",
	},
	{
		ID:          3,
		Name:        "DOULIA Insight",
		Icon:        "📊",
		Description: "Exploitez vos données pour prendre des décisions stratégiques.",
	},
}

func FindPack(id int) (models.Pack, bool) {
	for _, p := range Packs {
		if p.ID == id {
			return p, true
		}
	}
	return models.Pack{}, false
}
