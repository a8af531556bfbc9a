package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Dan9191/user-service/internal/models"
	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Exporter writes user-data export artifacts as XML documents.
type Exporter struct {
	dir string
}

// NewExporter initializes an exporter writing into dir
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Write assembles the user's full record and addresses into an XML document
// and writes it under the export directory, returning the file path.
func (e *Exporter) Write(jobID uuid.UUID, user *models.User, addresses []*models.Address) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("user_export")
	root.CreateAttr("generated_at", time.Now().UTC().Format(time.RFC3339))
	root.CreateAttr("job_id", jobID.String())

	u := root.CreateElement("user")
	u.CreateElement("id").SetText(user.ID.String())
	u.CreateElement("email").SetText(user.Email)
	u.CreateElement("username").SetText(user.Username)
	if user.FullName != "" {
		u.CreateElement("full_name").SetText(user.FullName)
	}
	if user.AvatarURL != "" {
		u.CreateElement("avatar_url").SetText(user.AvatarURL)
	}
	if user.Phone != "" {
		u.CreateElement("phone").SetText(user.Phone)
	}
	u.CreateElement("credential_kind").SetText(string(user.Credentials.Kind))
	u.CreateElement("created_at").SetText(user.CreatedAt.UTC().Format(time.RFC3339))
	u.CreateElement("updated_at").SetText(user.UpdatedAt.UTC().Format(time.RFC3339))

	list := root.CreateElement("addresses")
	list.CreateAttr("count", fmt.Sprintf("%d", len(addresses)))
	for _, a := range addresses {
		el := list.CreateElement("address")
		el.CreateElement("id").SetText(a.ID.String())
		el.CreateElement("country").SetText(a.Country)
		el.CreateElement("city").SetText(a.City)
		el.CreateElement("street").SetText(a.Street)
		el.CreateElement("postal_code").SetText(a.PostalCode)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("export-%s.xml", jobID))
	doc.Indent(2)
	if err := doc.WriteToFile(path); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}
