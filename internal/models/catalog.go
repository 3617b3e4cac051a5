package models

// Product is the local (camelCase) shape of a catalog product.
type Product struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Reference         string  `json:"reference,omitempty"`
	Price             float64 `json:"price,omitempty"`
	ImageURL          string  `json:"imageUrl,omitempty"`
	BrandID           string  `json:"brandId,omitempty"`
	UtilityCategoryID string  `json:"utilityCategoryId,omitempty"`
	CompanyID         string  `json:"companyId,omitempty"`
	CreatedAt         string  `json:"createdAt,omitempty"`
	UpdatedAt         string  `json:"updatedAt,omitempty"`
}

// GetID implements Identifiable.
func (p Product) GetID() string { return p.ID }

// Category is the local shape of a utility category.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"companyId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// GetID implements Identifiable.
func (c Category) GetID() string { return c.ID }

// Brand is the local shape of a brand.
type Brand struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LogoURL   string `json:"logoUrl,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// GetID implements Identifiable.
func (b Brand) GetID() string { return b.ID }

// =====================================================
// Remote rows (snake_case, as served by the backend)
// =====================================================

// ProductRow is a row of the remote products table.
type ProductRow struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Reference         string  `json:"reference,omitempty"`
	Price             float64 `json:"price,omitempty"`
	ImageURL          string  `json:"image_url,omitempty"`
	BrandID           string  `json:"brand_id,omitempty"`
	UtilityCategoryID string  `json:"utility_category_id,omitempty"`
	CompanyID         string  `json:"company_id,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

// ToProduct renames the row's fields into the local shape.
func (r ProductRow) ToProduct() Product {
	return Product{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		Reference:         r.Reference,
		Price:             r.Price,
		ImageURL:          r.ImageURL,
		BrandID:           r.BrandID,
		UtilityCategoryID: r.UtilityCategoryID,
		CompanyID:         r.CompanyID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// ProductRowFrom converts a local product into the remote row shape.
func ProductRowFrom(p Product) ProductRow {
	return ProductRow{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Reference:         p.Reference,
		Price:             p.Price,
		ImageURL:          p.ImageURL,
		BrandID:           p.BrandID,
		UtilityCategoryID: p.UtilityCategoryID,
		CompanyID:         p.CompanyID,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// CategoryRow is a row of the remote utility_categories table.
type CategoryRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ToCategory renames the row's fields into the local shape.
func (r CategoryRow) ToCategory() Category {
	return Category{
		ID:        r.ID,
		Name:      r.Name,
		CompanyID: r.CompanyID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CategoryRowFrom converts a local category into the remote row shape.
func CategoryRowFrom(c Category) CategoryRow {
	return CategoryRow{
		ID:        c.ID,
		Name:      c.Name,
		CompanyID: c.CompanyID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// BrandRow is a row of the remote brands table.
type BrandRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LogoURL   string `json:"logo_url,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ToBrand renames the row's fields into the local shape.
func (r BrandRow) ToBrand() Brand {
	return Brand{
		ID:        r.ID,
		Name:      r.Name,
		LogoURL:   r.LogoURL,
		CompanyID: r.CompanyID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// BrandRowFrom converts a local brand into the remote row shape.
func BrandRowFrom(b Brand) BrandRow {
	return BrandRow{
		ID:        b.ID,
		Name:      b.Name,
		LogoURL:   b.LogoURL,
		CompanyID: b.CompanyID,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}
