package langtab

// Builtin tables for the grammars the repository tests against. Kind names
// follow each language's tree-sitter grammar.
var builtins = map[string]*Table{
	"go": New("go", map[string]Role{
		"identifier":         RoleOccurrence,
		"type_identifier":    RoleOccurrence,
		"field_identifier":   RoleOccurrence,
		"package_identifier": RoleOccurrence,
		"function_declaration": RoleDefinition,
		"method_declaration":   RoleDefinition,
		"type_spec":            RoleDefinition,
		"call_expression": RoleReference,
	}, nil),

	"rust": New("rust", map[string]Role{
		"identifier":       RoleOccurrence,
		"type_identifier":  RoleOccurrence,
		"field_identifier": RoleOccurrence,
		"function_item": RoleDefinition,
		"struct_item":   RoleDefinition,
		"enum_item":     RoleDefinition,
		"trait_item":    RoleDefinition,
		"mod_item":      RoleDefinition,
		"call_expression": RoleReference,
	}, nil),

	"python": New("python", map[string]Role{
		"identifier": RoleOccurrence,
		"function_definition": RoleDefinition,
		"class_definition":    RoleDefinition,
		// tree-sitter-python names call sites plain "call".
		"call": RoleReference,
	}, nil),

	"javascript": New("javascript", map[string]Role{
		"identifier":          RoleOccurrence,
		"property_identifier": RoleOccurrence,
		"function_declaration": RoleDefinition,
		"method_definition":    RoleDefinition,
		"class_declaration":    RoleDefinition,
		"call_expression": RoleReference,
	}, nil),
}
