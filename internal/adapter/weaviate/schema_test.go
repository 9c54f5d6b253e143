package weaviate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client))

	require.NotNil(t, client.CreatedClass)
	assert.Equal(t, ClassName, client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)
	assert.Equal(t, map[string]interface{}{"distance": "cosine"}, client.CreatedClass.VectorIndexConfig)

	names := make([]string, 0, len(client.CreatedClass.Properties))
	for _, p := range client.CreatedClass.Properties {
		names = append(names, p.Name)
		assert.Equal(t, "field", p.Tokenization, "property %s must match exactly", p.Name)
	}
	assert.ElementsMatch(t, []string{"tenantId", "documentId", "chunkId"}, names)
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:      ClassName,
			Properties: []*models.Property{{Name: "tenantId", DataType: []string{"text"}}},
		},
	}

	require.NoError(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass, "existing class must not be recreated")

	added := make([]string, 0, len(client.AddedProperties))
	for _, p := range client.AddedProperties {
		added = append(added, p.Name)
	}
	assert.ElementsMatch(t, []string{"documentId", "chunkId"}, added)
}
