package export

import (
	"testing"

	"github.com/Dan9191/user-service/internal/models"
	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProducesParsableXML(t *testing.T) {
	e := NewExporter(t.TempDir())
	jobID := uuid.New()
	user := &models.User{
		ID:       uuid.New(),
		Email:    "a@x.com",
		Username: "a",
		FullName: "Alice",
		Credentials: models.Credentials{
			Kind:       models.CredentialExternal,
			ExternalID: "sub-1",
		},
	}
	addresses := []*models.Address{
		{ID: uuid.New(), UserID: user.ID, Country: "LV", City: "Riga", Street: "Brivibas 1", PostalCode: "LV-1001"},
		{ID: uuid.New(), UserID: user.ID, Country: "LV", City: "Jurmala", Street: "Jomas 2", PostalCode: "LV-2015"},
	}

	path, err := e.Write(jobID, user, addresses)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))

	root := doc.SelectElement("user_export")
	require.NotNil(t, root)
	assert.Equal(t, jobID.String(), root.SelectAttrValue("job_id", ""))

	u := root.SelectElement("user")
	require.NotNil(t, u)
	assert.Equal(t, "a@x.com", u.SelectElement("email").Text())
	assert.Equal(t, "external", u.SelectElement("credential_kind").Text())
	// Credentials themselves never leave the system.
	assert.Nil(t, u.SelectElement("password_hash"))
	assert.Nil(t, u.SelectElement("external_id"))

	list := root.SelectElement("addresses")
	require.NotNil(t, list)
	assert.Equal(t, "2", list.SelectAttrValue("count", ""))
	assert.Len(t, list.SelectElements("address"), 2)
}

func TestWriteNoAddresses(t *testing.T) {
	e := NewExporter(t.TempDir())
	user := &models.User{ID: uuid.New(), Email: "a@x.com", Username: "a"}

	path, err := e.Write(uuid.New(), user, nil)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	list := doc.SelectElement("user_export").SelectElement("addresses")
	require.NotNil(t, list)
	assert.Equal(t, "0", list.SelectAttrValue("count", ""))
}
