package models

import (
	"fmt"
	"strings"

	"solasola/internal/services"
)

// Type groups models by what the pipeline uses them for.
type Type string

const (
	TypeGenre  Type = "genre"
	TypeDemucs Type = "demucs"
)

// GenreRepoID is the Hugging Face repository of the genre classifier.
const GenreRepoID = "sanchit-gandhi/distilhubert-finetuned-gtzan"

// Ref identifies an installable model.
type Ref struct {
	Type Type
	// Key is the Hugging Face repo id for genre models and the model name
	// for separator models.
	Key           string
	Name          string
	ExpectedBytes int64
}

// ID returns the manifest identifier for the model.
func (r Ref) ID() string {
	switch r.Type {
	case TypeDemucs:
		return "demucs_" + r.Key
	default:
		return "hf_" + strings.ReplaceAll(r.Key, "/", "--")
	}
}

// Catalog lists the models solasola knows how to install. Sizes are the
// published download sizes and only feed progress estimates.
var Catalog = []Ref{
	{Type: TypeGenre, Key: GenreRepoID, Name: "Genre Classifier", ExpectedBytes: 95 << 20},
	{Type: TypeDemucs, Key: "htdemucs", Name: "HT Demucs", ExpectedBytes: 84 << 20},
	{Type: TypeDemucs, Key: "htdemucs_ft", Name: "HT Demucs (fine-tuned)", ExpectedBytes: 336 << 20},
	{Type: TypeDemucs, Key: "htdemucs_6s", Name: "HT Demucs (6 stems)", ExpectedBytes: 53 << 20},
	{Type: TypeDemucs, Key: "mdx_extra_q", Name: "MDX Extra Q", ExpectedBytes: 171 << 20},
}

// LookupRef resolves a type and key against the catalog.
func LookupRef(modelType, key string) (Ref, error) {
	modelType = strings.ToLower(strings.TrimSpace(modelType))
	key = strings.TrimSpace(key)
	if key == "" && Type(modelType) == TypeGenre {
		key = GenreRepoID
	}
	for _, ref := range Catalog {
		if string(ref.Type) == modelType && ref.Key == key {
			return ref, nil
		}
	}
	return Ref{}, services.Wrap(services.ErrValidation, "models", "lookup",
		fmt.Sprintf("unknown model %s/%s", modelType, key), nil)
}
