package papers

import "time"

// Paper is a published academic paper in the content table. The content
// surface is outside the auth core; it exists as the primary consumer of
// the route guard.
type Paper struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Abstract   string    `json:"abstract"`
	Authors    []string  `json:"authors"`
	Keywords   []string  `json:"keywords"`
	FileURL    string    `json:"file_url,omitempty"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
