package catalog

const PlaceholderImage = "https://placehold.co/400x400/CCCCCC/000000?text=No+Image"

// Categories is the fixed set of departments a product may belong to.
var Categories = []string{
	"Cosmetics & Personal Care",
	"Razors",
	"Toothbrush",
	"Agarbatti (Incense Sticks)",
	"Natural / Herbal Products",
	"Adhesive Tape",
	"PVC Tape",
	"Stationery",
	"Stationery Tapes",
	"Baby Products (Soothers)",
	"Cleaning Products",
	"Pest Control",
	"Craft Supplies",
}

func IsKnownCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Seed returns the storefront's initial product set, used when neither the
// remote endpoint nor the local store holds a catalog yet.
func Seed() []Product {
	return []Product{
		{
			ID:          "1",
			Name:        "Belo Color",
			Category:    "Cosmetics & Personal Care",
			Description: "High-quality hair color for vibrant and long-lasting results.",
			Image:       "/balo-color-1.jpg",
			Images:      []string{"/balo-color-1.jpg", "/balo-color-2.jpg", "/balo-color-3.jpg", PlaceholderImage},
			Features:    []string{"Long-lasting color", "Natural ingredients", "Easy application"},
		},
		{
			ID:          "2",
			Name:        "Grace Color",
			Category:    "Cosmetics & Personal Care",
			Description: "Premium hair coloring solution with excellent coverage.",
			Image:       "/grace-color-1.jpg",
			Images:      []string{"/grace-color-1.jpg", "/grace-color-2.jpg", "/grace-color-3.jpg"},
			Features:    []string{"Premium quality", "Excellent coverage", "Hair-friendly formula"},
		},
		{
			ID:          "3",
			Name:        "Veloria Facial",
			Category:    "Cosmetics & Personal Care",
			Description: "Gentle facial cream for smooth and radiant skin.",
			Image:       "/veloria-facial-1.jpg",
			Images:      []string{"/veloria-facial-1.jpg", "/veloria-facial-2.jpg", "/veloria-facial-3.jpg"},
			Features:    []string{"Gentle formula", "Radiant skin", "Moisturizing effect"},
		},
		{
			ID:          "4",
			Name:        "Sharp Razor",
			Category:    "Razors",
			Description: "Professional-grade razor for precise and comfortable shaving.",
			Image:       "/sharp-razor-1.jpg",
			Images:      []string{"/sharp-razor-1.jpg", "/sharp-razor-2.jpg", "/sharp-razor-3.jpg"},
			Features:    []string{"Sharp blade", "Comfortable grip", "Precise cutting"},
		},
		{
			ID:          "5",
			Name:        "Ujala Razor",
			Category:    "Razors",
			Description: "Reliable razor for everyday grooming needs.",
			Image:       "/ujala-razor-1.jpg",
			Images:      []string{"/ujala-razor-1.jpg", "/ujala-razor-2.jpg", PlaceholderImage},
			Features:    []string{"Reliable quality", "Everyday use", "Affordable price"},
		},
		{
			ID:          "6",
			Name:        "Mister Clean Toothbrush",
			Category:    "Toothbrush",
			Description: "High-quality toothbrush for optimal oral hygiene.",
			Image:       "/mister-clean-toothbrush-1.jpg",
			Images:      []string{"/mister-clean-toothbrush-1.jpg", "/mister-clean-toothbrush-2.jpg", PlaceholderImage},
			Features:    []string{"Soft bristles", "Ergonomic handle", "Effective cleaning"},
		},
		{
			ID:          "7",
			Name:        "Mahfil Milan",
			Category:    "Agarbatti (Incense Sticks)",
			Description: "Premium incense sticks with enchanting fragrance.",
			Image:       "/mahfil-milan-1.jpg",
			Images:      []string{"/mahfil-milan-1.jpg", "/mahfil-milan-2.jpg", PlaceholderImage},
			Features:    []string{"Premium quality", "Long-lasting fragrance", "Natural ingredients"},
		},
		{
			ID:          "8",
			Name:        "Golden Milan",
			Category:    "Agarbatti (Incense Sticks)",
			Description: "Luxurious incense sticks for a calming atmosphere.",
			Image:       "/golden-milan-1.jpg",
			Images:      []string{"/golden-milan-1.jpg", "/golden-milan-2.jpg", PlaceholderImage},
			Features:    []string{"Luxurious fragrance", "Calming effect", "High-quality materials"},
		},
		{
			ID:          "9",
			Name:        "Natural ISP",
			Category:    "Natural / Herbal Products",
			Description: "Natural herbal supplement for health and wellness.",
			Image:       "/natural-isp-1.jpg",
			Images:      []string{"/natural-isp-1.jpg", "/natural-isp-2.jpg", PlaceholderImage},
			Features:    []string{"Natural ingredients", "Health benefits", "Traditional formula"},
		},
		{
			ID:          "10",
			Name:        "Jor Joshanda",
			Category:    "Natural / Herbal Products",
			Description: "Traditional herbal remedy for respiratory wellness.",
			Image:       "/jor-joshanda-1.jpg",
			Images:      []string{"/jor-joshanda-1.jpg", "/jor-joshanda-2.jpg", PlaceholderImage},
			Features:    []string{"Traditional remedy", "Natural herbs", "Respiratory support"},
		},
		{
			ID:          "11",
			Name:        "Lemon Adhesive Tape",
			Category:    "Adhesive Tape",
			Description: "High-quality adhesive tape for various applications.",
			Image:       "/lemon-adhesive-tape-1.jpg",
			Images:      []string{"/lemon-adhesive-tape-1.jpg", "/lemon-adhesive-tape-2.jpg", PlaceholderImage},
			Features:    []string{"Strong adhesion", "Versatile use", "Durable material"},
		},
		{
			ID:          "12",
			Name:        "Silicon Nipple",
			Category:    "Baby Products (Soothers)",
			Description: "Safe and comfortable silicon soother for babies.",
			Image:       "/silicon-nipple-1.jpg",
			Images:      []string{"/silicon-nipple-1.jpg", "/silicon-nipple-2.jpg", PlaceholderImage},
			Features:    []string{"Food-grade silicon", "Comfortable design", "Easy to clean"},
		},
	}
}
