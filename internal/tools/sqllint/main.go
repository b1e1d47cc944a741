// Command sqllint verifies that every inline SQL constant begins with a
// `--sql <uuid>` marker line and that no marker is reused. The markers tie
// slow-query log lines back to the constant that produced them, so a missing
// or duplicated marker breaks the audit trail.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type site struct {
	file string
	name string
	line int
}

func (s site) String() string {
	return fmt.Sprintf("%s:%d (%s)", s.file, s.line, s.name)
}

type checker struct {
	missing []site
	markers map[string][]site
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}

	c := &checker{markers: map[string][]site{}}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			fail("%v", err)
		}
		if info.IsDir() {
			err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if strings.HasPrefix(d.Name(), ".") || d.Name() == "vendor" || d.Name() == "_examples" {
						return filepath.SkipDir
					}
					return nil
				}
				if filepath.Ext(path) != ".go" {
					return nil
				}
				return c.lintFile(path)
			})
			if err != nil {
				fail("%v", err)
			}
		} else if filepath.Ext(target) == ".go" {
			if err := c.lintFile(target); err != nil {
				fail("%v", err)
			}
		}
	}

	bad := false
	if len(c.missing) > 0 {
		bad = true
		fmt.Fprintln(os.Stderr, "sqllint: SQL constants without a --sql <uuid> marker")
		for _, s := range c.missing {
			fmt.Fprintf(os.Stderr, "  %s\n", s)
		}
	}
	for marker, sites := range c.markers {
		if len(sites) < 2 {
			continue
		}
		bad = true
		fmt.Fprintf(os.Stderr, "sqllint: marker %s used %d times\n", marker, len(sites))
		for _, s := range sites {
			fmt.Fprintf(os.Stderr, "  %s\n", s)
		}
	}
	if bad {
		os.Exit(1)
	}
}

func (c *checker) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil {
				continue
			}
			if !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			at := site{file: path, name: joinNames(vs.Names), line: fset.Position(bl.Pos()).Line}
			m := uuidMarkerPattern.FindStringSubmatch(firstLine(raw))
			if m == nil {
				c.missing = append(c.missing, at)
				continue
			}
			c.markers[m[1]] = append(c.markers[m[1]], at)
		}
		return true
	})
	return nil
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "sqllint: "+format+"\n", args...)
	os.Exit(1)
}
