package stdlib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// hostPath resolves a virtualized path through the context's mapper;
// without a mapper the handle is used as a host path directly.
func hostPath(ctx *Context, virtual string) (string, error) {
	if ctx.Mapper == nil {
		return virtual, nil
	}
	return ctx.Mapper.HostPath(virtual)
}

func readFileArg(args []wdl.Value, ctx *Context) ([]byte, error) {
	fv, ok := args[0].(wdl.FileValue)
	if !ok {
		return nil, fmt.Errorf("File argument required, got %s", args[0].Type())
	}
	p, err := hostPath(ctx, fv.V)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// writeFile synthesizes a file under the context's write_ directory
// and returns it as a File value.
func writeFile(ctx *Context, pattern string, content []byte) (wdl.Value, error) {
	dir := ctx.WriteDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return nil, err
	}
	return wdl.NewFile(f.Name()), nil
}

// registerIO installs the filesystem-interacting functions.
func registerIO(l *Library) {
	stringArray := wdl.Array{Item: wdl.StringType{}}
	tsvType := wdl.Array{Item: wdl.Array{Item: wdl.StringType{}}}
	mapSS := wdl.Map{Key: wdl.StringType{}, Value: wdl.StringType{}}

	l.register("stdout", &static{
		name: "stdout", params: nil, minArgs: 0, ret: wdl.File{},
		impl: func(_ []wdl.Value, ctx *Context) (wdl.Value, error) {
			if ctx.StdoutPath == "" {
				return nil, fmt.Errorf("stdout() is only available in task outputs")
			}
			return wdl.NewFile(ctx.StdoutPath), nil
		},
	})

	l.register("stderr", &static{
		name: "stderr", params: nil, minArgs: 0, ret: wdl.File{},
		impl: func(_ []wdl.Value, ctx *Context) (wdl.Value, error) {
			if ctx.StderrPath == "" {
				return nil, fmt.Errorf("stderr() is only available in task outputs")
			}
			return wdl.NewFile(ctx.StderrPath), nil
		},
	})

	l.register("glob", &static{
		name: "glob", params: []wdl.Type{wdl.StringType{}}, minArgs: 1,
		ret: wdl.Array{Item: wdl.File{}},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			pattern := args[0].(wdl.StringValue).V
			if ctx.WorkDir == "" {
				return nil, fmt.Errorf("glob() is only available in task outputs")
			}
			matches, err := filepath.Glob(filepath.Join(ctx.WorkDir, pattern))
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", pattern, err)
			}
			sort.Strings(matches)
			var items []wdl.Value
			for _, m := range matches {
				info, err := os.Stat(m)
				if err != nil || info.IsDir() {
					continue
				}
				items = append(items, wdl.NewFile(m))
			}
			return wdl.ArrayValue{T: wdl.Array{Item: wdl.File{}, Nonempty: len(items) > 0}, Items: items}, nil
		},
	})

	l.register("size", &polymorphic{
		name: "size",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "size", 1, 2); err != nil {
				return nil, err
			}
			return wdl.Float{}, nil
		},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("size expects 1 or 2 arguments")
			}
			unit := "B"
			if len(args) == 2 {
				s, ok := args[1].(wdl.StringValue)
				if !ok {
					return nil, fmt.Errorf("size unit must be a String")
				}
				unit = s.V
			}
			bytes, err := sizeOf(args[0], ctx)
			if err != nil {
				return nil, err
			}
			div, err := unitDivisor(unit)
			if err != nil {
				return nil, err
			}
			return wdl.NewFloat(bytes / div), nil
		},
	})

	l.register("read_string", &static{
		name: "read_string", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: wdl.StringType{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			return wdl.NewString(strings.TrimSuffix(string(data), "\n")), nil
		},
	})

	l.register("read_int", &static{
		name: "read_int", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: wdl.Int{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("read_int: %w", err)
			}
			return wdl.NewInt(n), nil
		},
	})

	l.register("read_float", &static{
		name: "read_float", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: wdl.Float{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
			if err != nil {
				return nil, fmt.Errorf("read_float: %w", err)
			}
			return wdl.NewFloat(f), nil
		},
	})

	l.register("read_boolean", &static{
		name: "read_boolean", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: wdl.Boolean{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			switch strings.ToLower(strings.TrimSpace(string(data))) {
			case "true":
				return wdl.NewBoolean(true), nil
			case "false":
				return wdl.NewBoolean(false), nil
			}
			return nil, fmt.Errorf("read_boolean: file does not contain true or false")
		},
	})

	l.register("read_lines", &static{
		name: "read_lines", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: stringArray,
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			var items []wdl.Value
			if text := string(data); text != "" {
				text = strings.TrimSuffix(text, "\n")
				for _, line := range strings.Split(text, "\n") {
					items = append(items, wdl.NewString(line))
				}
			}
			return wdl.ArrayValue{T: wdl.Array{Item: wdl.StringType{}, Nonempty: len(items) > 0}, Items: items}, nil
		},
	})

	l.register("write_lines", &static{
		name: "write_lines", params: []wdl.Type{stringArray}, minArgs: 1, ret: wdl.File{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			arr := args[0].(wdl.ArrayValue)
			var b strings.Builder
			for _, item := range arr.Items {
				b.WriteString(item.String())
				b.WriteByte('\n')
			}
			return writeFile(ctx, "write_lines_*.txt", []byte(b.String()))
		},
	})

	l.register("read_tsv", &static{
		name: "read_tsv", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: tsvType,
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			rows, err := parseTSV(data)
			if err != nil {
				return nil, err
			}
			items := make([]wdl.Value, len(rows))
			for i, row := range rows {
				cells := make([]wdl.Value, len(row))
				for j, cell := range row {
					cells[j] = wdl.NewString(cell)
				}
				items[i] = wdl.ArrayValue{T: wdl.Array{Item: wdl.StringType{}, Nonempty: len(cells) > 0}, Items: cells}
			}
			return wdl.ArrayValue{T: tsvType, Items: items}, nil
		},
	})

	l.register("write_tsv", &static{
		name: "write_tsv", params: []wdl.Type{tsvType}, minArgs: 1, ret: wdl.File{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			outer := args[0].(wdl.ArrayValue)
			var b strings.Builder
			width := -1
			for _, row := range outer.Items {
				rv := row.(wdl.ArrayValue)
				if width >= 0 && len(rv.Items) != width {
					return nil, fmt.Errorf("write_tsv: ragged rows")
				}
				width = len(rv.Items)
				cells := make([]string, len(rv.Items))
				for i, c := range rv.Items {
					cells[i] = c.String()
				}
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteByte('\n')
			}
			return writeFile(ctx, "write_tsv_*.tsv", []byte(b.String()))
		},
	})

	l.register("read_map", &static{
		name: "read_map", params: []wdl.Type{wdl.File{}}, minArgs: 1, ret: mapSS,
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			rows, err := parseTSV(data)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool)
			entries := make([]wdl.MapEntry, 0, len(rows))
			for _, row := range rows {
				if len(row) != 2 {
					return nil, fmt.Errorf("read_map: each line must have two columns")
				}
				if seen[row[0]] {
					return nil, fmt.Errorf("read_map: duplicate key %q", row[0])
				}
				seen[row[0]] = true
				entries = append(entries, wdl.MapEntry{Key: wdl.NewString(row[0]), Value: wdl.NewString(row[1])})
			}
			return wdl.MapValue{T: mapSS, Entries: entries}, nil
		},
	})

	l.register("write_map", &static{
		name: "write_map", params: []wdl.Type{mapSS}, minArgs: 1, ret: wdl.File{},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			mv := args[0].(wdl.MapValue)
			var b strings.Builder
			for _, e := range mv.Entries {
				b.WriteString(e.Key.String())
				b.WriteByte('\t')
				b.WriteString(e.Value.String())
				b.WriteByte('\n')
			}
			return writeFile(ctx, "write_map_*.tsv", []byte(b.String()))
		},
	})

	l.register("read_json", &polymorphic{
		name: "read_json",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "read_json", 1, 1); err != nil {
				return nil, err
			}
			return wdl.Any{}, nil
		},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			data, err := readFileArg(args, ctx)
			if err != nil {
				return nil, err
			}
			var raw any
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("read_json: %w", err)
			}
			return wdl.ValueFromJSON(wdl.Any{}, raw)
		},
	})

	l.register("write_json", &polymorphic{
		name: "write_json",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "write_json", 1, 1); err != nil {
				return nil, err
			}
			return wdl.File{}, nil
		},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("write_json expects 1 argument")
			}
			data, err := json.Marshal(args[0].JSON())
			if err != nil {
				return nil, err
			}
			return writeFile(ctx, "write_json_*.json", data)
		},
	})

	l.register("read_object", &polymorphic{
		name: "read_object",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "read_object", 1, 1); err != nil {
				return nil, err
			}
			return wdl.Object{}, nil
		},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			objs, err := readObjects(args, ctx)
			if err != nil {
				return nil, err
			}
			if len(objs) != 1 {
				return nil, fmt.Errorf("read_object: file must contain exactly one row")
			}
			return objs[0], nil
		},
	})

	l.register("read_objects", &polymorphic{
		name: "read_objects",
		infer: func(apply *wdl.ExprApply) (wdl.Type, error) {
			if err := arity(apply, "read_objects", 1, 1); err != nil {
				return nil, err
			}
			return wdl.Array{Item: wdl.Object{}}, nil
		},
		impl: func(args []wdl.Value, ctx *Context) (wdl.Value, error) {
			objs, err := readObjects(args, ctx)
			if err != nil {
				return nil, err
			}
			items := make([]wdl.Value, len(objs))
			copy(items, objs)
			return wdl.ArrayValue{T: wdl.Array{Item: wdl.Object{}, Nonempty: len(items) > 0}, Items: items}, nil
		},
	})
}

func readObjects(args []wdl.Value, ctx *Context) ([]wdl.Value, error) {
	data, err := readFileArg(args, ctx)
	if err != nil {
		return nil, err
	}
	rows, err := parseTSV(data)
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("object file requires a header row")
	}
	header := rows[0]
	var out []wdl.Value
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("object row has %d columns, header has %d", len(row), len(header))
		}
		members := make([]wdl.NamedValue, len(header))
		memberTypes := make([]wdl.StructMember, len(header))
		for i, name := range header {
			members[i] = wdl.NamedValue{Name: name, Value: wdl.NewString(row[i])}
			memberTypes[i] = wdl.StructMember{Name: name, Type: wdl.StringType{}}
		}
		out = append(out, wdl.StructValue{T: wdl.Object{Members: memberTypes}, Members: members})
	}
	return out, nil
}

func parseTSV(data []byte) ([][]string, error) {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = strings.Split(strings.TrimSuffix(line, "\r"), "\t")
	}
	return rows, nil
}

// sizeOf sums the byte sizes of every File reachable in v; absent
// optionals contribute zero.
func sizeOf(v wdl.Value, ctx *Context) (float64, error) {
	switch vv := v.(type) {
	case wdl.NullValue:
		return 0, nil
	case wdl.FileValue:
		p, err := hostPath(ctx, vv.V)
		if err != nil {
			return 0, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return 0, fmt.Errorf("size: %w", err)
		}
		return float64(info.Size()), nil
	case wdl.DirectoryValue:
		p, err := hostPath(ctx, vv.V)
		if err != nil {
			return 0, err
		}
		var total float64
		err = filepath.Walk(p, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				total += float64(info.Size())
			}
			return nil
		})
		return total, err
	case wdl.StringValue:
		return sizeOf(wdl.NewFile(vv.V), ctx)
	case wdl.ArrayValue:
		var total float64
		for _, item := range vv.Items {
			n, err := sizeOf(item, ctx)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	return 0, fmt.Errorf("size: unsupported argument type %s", v.Type())
}

func unitDivisor(unit string) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "B", "":
		return 1, nil
	case "K", "KB":
		return 1e3, nil
	case "M", "MB":
		return 1e6, nil
	case "G", "GB":
		return 1e9, nil
	case "T", "TB":
		return 1e12, nil
	case "KI", "KIB":
		return 1024, nil
	case "MI", "MIB":
		return 1024 * 1024, nil
	case "GI", "GIB":
		return 1024 * 1024 * 1024, nil
	case "TI", "TIB":
		return 1024 * 1024 * 1024 * 1024, nil
	}
	return 0, fmt.Errorf("size: unknown unit %q", unit)
}
