package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
}

func (m *MockSchemaClient) Exists(ctx context.Context) (bool, error) {
	if m.ExistingClass != nil {
		return true, nil
	}
	return false, nil
}

func (m *MockSchemaClient) Create(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) Get(ctx context.Context) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	if err := EnsureSchema(context.Background(), client); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if client.CreatedClass == nil {
		t.Fatal("Class not created")
	}
	if client.CreatedClass.Class != ClassBookCover {
		t.Errorf("unexpected class name %q", client.CreatedClass.Class)
	}
	if client.CreatedClass.Vectorizer != "none" {
		t.Errorf("expected vectorizer none, got %q", client.CreatedClass.Vectorizer)
	}

	cfg, ok := client.CreatedClass.VectorIndexConfig.(map[string]interface{})
	if !ok || cfg["distance"] != DistanceL2Squared {
		t.Errorf("expected l2-squared distance, got %v", client.CreatedClass.VectorIndexConfig)
	}

	expectedProps := map[string]string{
		"isbn":       "text",
		"insertedAt": "int",
	}
	for _, prop := range client.CreatedClass.Properties {
		expectedType, ok := expectedProps[prop.Name]
		if !ok {
			t.Errorf("unexpected property %s", prop.Name)
			continue
		}
		if len(prop.DataType) == 0 || prop.DataType[0] != expectedType {
			t.Errorf("Property %s has wrong DataType: %v (expected %s)", prop.Name, prop.DataType, expectedType)
		}
	}
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	existingClass := &models.Class{
		Class:             ClassBookCover,
		VectorIndexConfig: map[string]interface{}{"distance": DistanceL2Squared},
		Properties: []*models.Property{
			{Name: "isbn", DataType: []string{"text"}},
		},
	}

	client := &MockSchemaClient{
		ExistingClass: existingClass,
	}

	if err := EnsureSchema(context.Background(), client); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if client.CreatedClass != nil {
		t.Fatal("Should not recreate class if it exists")
	}

	if len(client.AddedProperties) != 1 || client.AddedProperties[0].Name != "insertedAt" {
		t.Fatalf("expected only insertedAt to be added, got %v", client.AddedProperties)
	}
}

func TestEnsureSchema_RejectsOtherDistance(t *testing.T) {
	tests := []struct {
		name   string
		config interface{}
	}{
		{"cosine", map[string]interface{}{"distance": "cosine"}},
		{"default", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockSchemaClient{
				ExistingClass: &models.Class{Class: ClassBookCover, VectorIndexConfig: tt.config},
			}
			err := EnsureSchema(context.Background(), client)
			if !errors.Is(err, ErrDistanceMismatch) {
				t.Fatalf("expected ErrDistanceMismatch, got %v", err)
			}
			if len(client.AddedProperties) != 0 {
				t.Errorf("class must not be altered, added %v", client.AddedProperties)
			}
		})
	}
}
