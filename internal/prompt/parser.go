package prompt

import (
	"fmt"
	"strings"
)

// rawToken is either a literal text run or the trimmed contents of a
// {{ ... }} tag.
type rawToken struct {
	isTag bool
	value string
}

// tokenize splits template text on "{{"/"}}" delimiters. It does not
// interpret tag contents — that's parseBlock's job.
func tokenize(template string) ([]rawToken, error) {
	var tokens []rawToken
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			if rest != "" {
				tokens = append(tokens, rawToken{value: rest})
			}
			return tokens, nil
		}
		if start > 0 {
			tokens = append(tokens, rawToken{value: rest[:start]})
		}
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end == -1 {
			return nil, fmt.Errorf("prompt: unterminated %q tag", "{{")
		}
		tokens = append(tokens, rawToken{isTag: true, value: strings.TrimSpace(rest[:end])})
		rest = rest[end+2:]
	}
}

// Parse compiles template text into a renderable node tree. It's a small
// hand-rolled recursive-descent parser rather than a regex substitution
// pass: {{#if}}/{{#each}} blocks nest, and nesting needs a real parser to
// find each block's matching close tag.
func Parse(template string) ([]node, error) {
	tokens, err := tokenize(template)
	if err != nil {
		return nil, err
	}
	nodes, pos, stop, err := parseBlock(tokens, 0, nil)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		return nil, fmt.Errorf("prompt: unmatched %q tag", "{{"+stop+"}}")
	}
	if pos != len(tokens) {
		return nil, fmt.Errorf("prompt: unexpected trailing content after parse")
	}
	return nodes, nil
}

// parseBlock consumes tokens starting at pos until it exhausts the input or
// hits a tag listed in stopTags (checked only at this nesting level — a
// nested #if/#each consumes its own stop tags before returning here). It
// returns the parsed nodes, the position just past what was consumed, and
// which stop tag (if any) ended the block.
func parseBlock(tokens []rawToken, pos int, stopTags []string) ([]node, int, string, error) {
	var nodes []node

	for pos < len(tokens) {
		tok := tokens[pos]
		if !tok.isTag {
			nodes = append(nodes, node{kind: nodeText, text: tok.value})
			pos++
			continue
		}

		if tag, ok := matchStop(tok.value, stopTags); ok {
			return nodes, pos + 1, tag, nil
		}

		switch {
		case strings.HasPrefix(tok.value, "#if "):
			cond := strings.TrimSpace(strings.TrimPrefix(tok.value, "#if "))
			thenBody, next, stop, err := parseBlock(tokens, pos+1, []string{"else", "/if"})
			if err != nil {
				return nil, 0, "", err
			}
			var elseBody []node
			if stop == "else" {
				elseBody, next, stop, err = parseBlock(tokens, next, []string{"/if"})
				if err != nil {
					return nil, 0, "", err
				}
			}
			if stop != "/if" {
				return nil, 0, "", fmt.Errorf("prompt: missing {{/if}} for {{#if %s}}", cond)
			}
			nodes = append(nodes, node{kind: nodeIf, path: cond, body: thenBody, elseBody: elseBody})
			pos = next

		case strings.HasPrefix(tok.value, "#each "):
			listPath := strings.TrimSpace(strings.TrimPrefix(tok.value, "#each "))
			itemBody, next, stop, err := parseBlock(tokens, pos+1, []string{"/each"})
			if err != nil {
				return nil, 0, "", err
			}
			if stop != "/each" {
				return nil, 0, "", fmt.Errorf("prompt: missing {{/each}} for {{#each %s}}", listPath)
			}
			nodes = append(nodes, node{kind: nodeEach, path: listPath, body: itemBody})
			pos = next

		case tok.value == "else", tok.value == "/if", tok.value == "/each":
			return nil, 0, "", fmt.Errorf("prompt: unexpected %q with no matching opening tag", "{{"+tok.value+"}}")

		default:
			nodes = append(nodes, node{kind: nodeVar, path: tok.value})
			pos++
		}
	}

	return nodes, pos, "", nil
}

func matchStop(tag string, stopTags []string) (string, bool) {
	for _, s := range stopTags {
		if tag == s {
			return s, true
		}
	}
	return "", false
}
