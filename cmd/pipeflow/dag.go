package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/pipeflow/workflow"
)

// =============================================================================
// 🧭 DAG 查看命令
// =============================================================================

// runDAG 读取并校验一个 DAG 文件（JSON 或 YAML），以 YAML 输出
func runDAG(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("dag", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := fs.String("file", "", "Path to the DAG (JSON, or YAML by extension)")
	out := fs.String("out", "", "Write the YAML form to this file instead of stdout")
	order := fs.Bool("order", false, "List operators in execution order")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "dag: --file is required")
		return 1
	}

	dag, err := readDAG(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid DAG: %v\n", err)
		return 1
	}

	if *order {
		ops, err := dag.TopologicalOrder()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid DAG: %v\n", err)
			return 1
		}
		for i, op := range ops {
			fmt.Fprintf(stdout, "%3d  %-8s %s\n", i+1, op.Kind(), op.Name)
		}
		return 0
	}

	if *out != "" {
		if err := dag.SaveToYAMLFile(*out); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write DAG: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote %s (%d operators, %d artifacts)\n", *out, len(dag.Operators), len(dag.Artifacts))
		return 0
	}

	text, err := dag.ToYAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render DAG: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, text)
	return 0
}

// readDAG 按扩展名选择解码方式，.yaml/.yml 以外一律按 JSON 读取
func readDAG(path string) (*workflow.DAG, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return workflow.FromYAML(string(data))
	default:
		return workflow.LoadFromJSONFile(path)
	}
}
