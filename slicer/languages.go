package slicer

import (
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DefaultCodeStrategies returns the code strategy table for the languages
// this module ships grammars for, keyed the same way a caller's language
// detector would tag a file. Callers can extend or override entries before
// passing the map to New.
func DefaultCodeStrategies() map[string]Strategy {
	return map[string]Strategy{
		"go": CodeStrategy{
			Language:    golang.GetLanguage(),
			SubLanguage: "go",
			Kinds: DefinitionKinds{
				"function_declaration": SliceFunction,
				"method_declaration":   SliceFunction,
				"type_declaration":     SliceClass,
			},
		},
		"python": CodeStrategy{
			Language:    python.GetLanguage(),
			SubLanguage: "python",
			Kinds: DefinitionKinds{
				"function_definition": SliceFunction,
				"class_definition":    SliceClass,
			},
		},
		"javascript": CodeStrategy{
			Language:    javascript.GetLanguage(),
			SubLanguage: "javascript",
			Kinds: DefinitionKinds{
				"function_declaration": SliceFunction,
				"class_declaration":    SliceClass,
				"lexical_declaration":  SliceFunction,
			},
		},
		"typescript": CodeStrategy{
			Language:    typescript.GetLanguage(),
			SubLanguage: "typescript",
			Kinds: DefinitionKinds{
				"function_declaration":   SliceFunction,
				"class_declaration":      SliceClass,
				"interface_declaration":  SliceClass,
				"lexical_declaration":    SliceFunction,
			},
		},
		"java": CodeStrategy{
			Language:    java.GetLanguage(),
			SubLanguage: "java",
			Kinds: DefinitionKinds{
				"method_declaration":    SliceFunction,
				"class_declaration":     SliceClass,
				"interface_declaration": SliceClass,
			},
		},
		"rust": CodeStrategy{
			Language:    rust.GetLanguage(),
			SubLanguage: "rust",
			Kinds: DefinitionKinds{
				"function_item": SliceFunction,
				"impl_item":     SliceClass,
				"struct_item":   SliceClass,
			},
		},
		"cpp": CodeStrategy{
			Language:    cpp.GetLanguage(),
			SubLanguage: "cpp",
			Kinds: DefinitionKinds{
				"function_definition": SliceFunction,
				"class_specifier":     SliceClass,
				"struct_specifier":    SliceClass,
			},
		},
	}
}
