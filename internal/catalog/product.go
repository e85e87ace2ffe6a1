package catalog

// Product is a digital good offered by the storefront. Content is the
// deliverable released to the buyer once the order is paid.
type Product struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Content     string `json:"content,omitempty"`
}

// Listing is the public projection of a Product; it never carries Content.
type Listing struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// Listing returns the public projection of p.
func (p Product) Listing() Listing {
	return Listing{ID: p.ID, Name: p.Name, Description: p.Description, Price: p.Price}
}

// DefaultProducts is the storefront's built-in catalog. Prices are whole Rupiah.
func DefaultProducts() []Product {
	return []Product{
		{
			ID:          1,
			Name:        "Discord Auto Mod Bot",
			Description: "Bot moderasi otomatis untuk server Discord Anda. Blokir spam, kata kasar, dan link mencurigakan!",
			Price:       75000,
			Content:     "Link Download: https://example.com/bot-v1.zip\nLicense Key: XXX-YYY-ZZZ",
		},
		{
			ID:          2,
			Name:        "Script Auto Post",
			Description: "Auto post teks discord bot.",
			Price:       75000,
			Content:     "Script: https://github.com/example/script",
		},
		{
			ID:          3,
			Name:        "Custom Discord Bot",
			Description: "Bot Discord kustom sesuai kebutuhan server Anda. Fitur unlimited!",
			Price:       15000,
			Content:     "Please contact admin manually for custom requirements discussion.",
		},
		{
			ID:          4,
			Name:        "Redfinger Redeem Code 7D",
			Description: "Redeem Code Redfinger",
			Price:       19500,
			Content:     "Code: RED-7D-XXXX-YYYY",
		},
		{
			ID:          5,
			Name:        "Redfinger Redeem Code 30D",
			Description: "Redeem Code Redfinger",
			Price:       59500,
			Content:     "Code: RED-30D-AAAA-BBBB",
		},
		{
			ID:          6,
			Name:        "Auto Reply Discord Bot",
			Description: "Auto reply ketika ada yang dm, ada yang tag, dan ada yang reply pesan mu.",
			Price:       15000,
			Content:     "Download: https://example.com/autoreply.zip",
		},
		{
			ID:          7,
			Name:        "Vouch & Testimoni Discord Bot",
			Description: "Bot discord untuk Vouch & Testimoni",
			Price:       20000,
			Content:     "Setup Guide: https://docs.example.com/vouch-bot",
		},
	}
}
