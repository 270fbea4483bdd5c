// Package registry holds the master question catalog that questionnaire and
// transcript answers are keyed against.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/apm-cli/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// BlockInfo describes a block for prompts: what it measures and what each
// score level means.
type BlockInfo struct {
	Block       model.Block
	Prefix      string
	Description string
	// Rubric[i] describes score i+1.
	Rubric []string
}

type fileBlock struct {
	Name        string   `yaml:"name" json:"name"`
	Prefix      string   `yaml:"prefix" json:"prefix"`
	Description string   `yaml:"description" json:"description"`
	Rubric      []string `yaml:"rubric" json:"rubric"`
	Questions   []string `yaml:"questions" json:"questions"`
}

type catalogFile struct {
	Blocks []fileBlock `yaml:"blocks" json:"blocks"`
}

// Catalog is an immutable, indexed set of questions.
type Catalog struct {
	questions []model.Question
	blocks    map[model.Block]BlockInfo
	byID      map[string]int
	byText    map[string]int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog, "yaml")
	if err != nil {
		panic(fmt.Sprintf("registry: built-in catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a .yaml, .yml or .json file. An empty path
// returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read catalog")
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	c, err := Parse(data, format)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: load %s", path)
	}
	return c, nil
}

// Parse builds a catalog from raw file content. Question IDs are the block
// prefix and the 1-based position, e.g. "AR-07".
func Parse(data []byte, format string) (*Catalog, error) {
	var f catalogFile
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "registry: parse yaml")
		}
	case "json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "registry: parse json")
		}
	default:
		return nil, eris.Errorf("registry: unsupported catalog format %q", format)
	}

	c := &Catalog{
		blocks: make(map[model.Block]BlockInfo),
		byID:   make(map[string]int),
		byText: make(map[string]int),
	}
	for _, fb := range f.Blocks {
		b, ok := model.ParseBlock(fb.Name)
		if !ok {
			return nil, eris.Errorf("registry: unknown block %q", fb.Name)
		}
		if _, dup := c.blocks[b]; dup {
			return nil, eris.Errorf("registry: block %q listed twice", b)
		}
		if fb.Prefix == "" {
			return nil, eris.Errorf("registry: block %q has no prefix", b)
		}
		c.blocks[b] = BlockInfo{Block: b, Prefix: fb.Prefix, Description: fb.Description, Rubric: fb.Rubric}

		for i, text := range fb.Questions {
			q := model.Question{
				ID:    fmt.Sprintf("%s-%02d", fb.Prefix, i+1),
				Block: b,
				Text:  strings.TrimSpace(text),
			}
			if _, dup := c.byID[q.ID]; dup {
				return nil, eris.Errorf("registry: duplicate question id %s", q.ID)
			}
			c.byID[q.ID] = len(c.questions)
			c.byText[normalize(q.Text)] = len(c.questions)
			c.questions = append(c.questions, q)
		}
	}
	if len(c.questions) == 0 {
		return nil, eris.New("registry: catalog has no questions")
	}
	return c, nil
}

// Questions returns all questions in catalog order.
func (c *Catalog) Questions() []model.Question {
	out := make([]model.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// ByBlock returns the questions of one block.
func (c *Catalog) ByBlock(b model.Block) []model.Question {
	var out []model.Question
	for _, q := range c.questions {
		if q.Block == b {
			out = append(out, q)
		}
	}
	return out
}

// Block returns the description of a block.
func (c *Catalog) Block(b model.Block) (BlockInfo, bool) {
	info, ok := c.blocks[b]
	return info, ok
}

// Get looks a question up by ID.
func (c *Catalog) Get(id string) (model.Question, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Question{}, false
	}
	return c.questions[i], true
}

// Len returns the number of questions.
func (c *Catalog) Len() int { return len(c.questions) }

// Match resolves free text to a catalog question: an ID, then exact text
// after normalization, then the most similar question whose Levenshtein
// similarity exceeds threshold.
func (c *Catalog) Match(text string, threshold float64) (model.Question, float64, bool) {
	if q, ok := c.Get(strings.ToUpper(strings.TrimSpace(text))); ok {
		return q, 1, true
	}
	norm := normalize(text)
	if norm == "" {
		return model.Question{}, 0, false
	}
	if i, ok := c.byText[norm]; ok {
		return c.questions[i], 1, true
	}

	best, bestSim := -1, 0.0
	for i, q := range c.questions {
		sim := levenshtein.Similarity(norm, normalize(q.Text), nil)
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 || bestSim <= threshold {
		return model.Question{}, bestSim, false
	}
	return c.questions[best], bestSim, true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
