package prompt

// nodeKind tags the variant of an AST node produced by the parser (§9
// "Sealed hierarchies"): explicit switch dispatch at render time instead of
// dynamic method lookup.
type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeIf
	nodeEach
)

// node is one piece of a parsed template: literal text, a variable
// reference, or a control block with its own nested body.
type node struct {
	kind nodeKind

	text string // nodeText: literal output
	path string // nodeVar: dotted path; nodeIf/nodeEach: condition/list path

	body     []node // nodeIf: "then" branch; nodeEach: per-item body
	elseBody []node // nodeIf: optional "else" branch
}
