package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateDocumentID() string {
	return g.generate("doc")
}

func (g *Generator) GenerateSessionID() string {
	return g.generate("ss")
}

func (g *Generator) GenerateUserMessageID() string {
	return g.generate("um")
}

func (g *Generator) GenerateAIMessageID() string {
	return g.generate("am")
}

func (g *Generator) GenerateSummaryMessageID() string {
	return g.generate("sm")
}

func (g *Generator) GenerateThoughtChainID() string {
	return g.generate("tc")
}
