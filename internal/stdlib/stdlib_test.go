package stdlib

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/me/gowdl/pkg/wdl"
)

func testLib(t *testing.T) *Library {
	t.Helper()
	return New(&Context{WriteDir: t.TempDir()})
}

func strArray(items ...string) wdl.ArrayValue {
	vals := make([]wdl.Value, len(items))
	for i, s := range items {
		vals[i] = wdl.NewString(s)
	}
	return wdl.NewArray(wdl.StringType{}, vals...)
}

func TestLength(t *testing.T) {
	l := testLib(t)
	got, err := l.Call("length", []wdl.Value{strArray("a", "b", "c")})
	if err != nil {
		t.Fatalf("length error: %v", err)
	}
	if !wdl.ValuesEqual(got, wdl.NewInt(3)) {
		t.Errorf("length = %v, want 3", got)
	}
}

func TestRange(t *testing.T) {
	l := testLib(t)
	got, err := l.Call("range", []wdl.Value{wdl.NewInt(4)})
	if err != nil {
		t.Fatalf("range error: %v", err)
	}
	arr := got.(wdl.ArrayValue)
	if len(arr.Items) != 4 || !wdl.ValuesEqual(arr.Items[3], wdl.NewInt(3)) {
		t.Errorf("range(4) = %v", got)
	}
}

func TestSub(t *testing.T) {
	l := testLib(t)
	got, err := l.Call("sub", []wdl.Value{
		wdl.NewString("chr1\tchr2"), wdl.NewString("\\t"), wdl.NewString(","),
	})
	if err != nil {
		t.Fatalf("sub error: %v", err)
	}
	if got.String() != "chr1,chr2" {
		t.Errorf("sub = %q", got)
	}
}

func TestBasename(t *testing.T) {
	l := testLib(t)
	got, _ := l.Call("basename", []wdl.Value{wdl.NewString("/a/b/c.txt")})
	if got.String() != "c.txt" {
		t.Errorf("basename = %q", got)
	}
	got, _ = l.Call("basename", []wdl.Value{wdl.NewString("/a/b/c.txt"), wdl.NewString(".txt")})
	if got.String() != "c" {
		t.Errorf("basename with suffix = %q", got)
	}
}

func TestSelectFirst(t *testing.T) {
	l := testLib(t)
	arr := wdl.NewArray(wdl.Int{Opt: true}, wdl.NewNull(), wdl.NewInt(42))
	got, err := l.Call("select_first", []wdl.Value{arr})
	if err != nil {
		t.Fatalf("select_first error: %v", err)
	}
	if !wdl.ValuesEqual(got, wdl.NewInt(42)) {
		t.Errorf("select_first = %v, want 42", got)
	}

	allNull := wdl.NewArray(wdl.Int{Opt: true}, wdl.NewNull())
	if _, err := l.Call("select_first", []wdl.Value{allNull}); err == nil {
		t.Error("select_first of all-null should error")
	}
}

func TestZipAndCross(t *testing.T) {
	l := testLib(t)
	a := wdl.NewArray(wdl.Int{}, wdl.NewInt(1), wdl.NewInt(2))
	b := strArray("x", "y")

	zipped, err := l.Call("zip", []wdl.Value{a, b})
	if err != nil {
		t.Fatalf("zip error: %v", err)
	}
	za := zipped.(wdl.ArrayValue)
	if len(za.Items) != 2 {
		t.Fatalf("zip length = %d", len(za.Items))
	}
	p := za.Items[1].(wdl.PairValue)
	if !wdl.ValuesEqual(p.Left, wdl.NewInt(2)) || p.Right.String() != "y" {
		t.Errorf("zip[1] = %v", p)
	}

	crossed, err := l.Call("cross", []wdl.Value{a, b})
	if err != nil {
		t.Fatalf("cross error: %v", err)
	}
	if n := len(crossed.(wdl.ArrayValue).Items); n != 4 {
		t.Errorf("cross length = %d, want 4", n)
	}
}

func TestFlattenTranspose(t *testing.T) {
	l := testLib(t)
	inner1 := wdl.NewArray(wdl.Int{}, wdl.NewInt(1), wdl.NewInt(2))
	inner2 := wdl.NewArray(wdl.Int{}, wdl.NewInt(3), wdl.NewInt(4))
	nested := wdl.NewArray(wdl.Array{Item: wdl.Int{}}, inner1, inner2)

	flat, err := l.Call("flatten", []wdl.Value{nested})
	if err != nil {
		t.Fatalf("flatten error: %v", err)
	}
	if n := len(flat.(wdl.ArrayValue).Items); n != 4 {
		t.Errorf("flatten length = %d", n)
	}

	tr, err := l.Call("transpose", []wdl.Value{nested})
	if err != nil {
		t.Fatalf("transpose error: %v", err)
	}
	rows := tr.(wdl.ArrayValue).Items
	if len(rows) != 2 {
		t.Fatalf("transpose rows = %d", len(rows))
	}
	first := rows[0].(wdl.ArrayValue)
	if !wdl.ValuesEqual(first.Items[0], wdl.NewInt(1)) || !wdl.ValuesEqual(first.Items[1], wdl.NewInt(3)) {
		t.Errorf("transpose[0] = %v", first)
	}
}

func TestWriteReadLinesRoundTrip(t *testing.T) {
	l := testLib(t)
	in := strArray("one", "two", "three")
	f, err := l.Call("write_lines", []wdl.Value{in})
	if err != nil {
		t.Fatalf("write_lines error: %v", err)
	}
	back, err := l.Call("read_lines", []wdl.Value{f})
	if err != nil {
		t.Fatalf("read_lines error: %v", err)
	}
	got := back.(wdl.ArrayValue)
	if len(got.Items) != 3 {
		t.Fatalf("round trip length = %d", len(got.Items))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got.Items[i].String() != want {
			t.Errorf("line %d = %q, want %q", i, got.Items[i], want)
		}
	}
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	l := testLib(t)
	v := wdl.MapValue{
		T: wdl.Map{Key: wdl.StringType{}, Value: wdl.Int{}},
		Entries: []wdl.MapEntry{
			{Key: wdl.NewString("a"), Value: wdl.NewInt(1)},
			{Key: wdl.NewString("b"), Value: wdl.NewInt(2)},
		},
	}
	f, err := l.Call("write_json", []wdl.Value{v})
	if err != nil {
		t.Fatalf("write_json error: %v", err)
	}
	back, err := l.Call("read_json", []wdl.Value{f})
	if err != nil {
		t.Fatalf("read_json error: %v", err)
	}
	if !reflect.DeepEqual(back.JSON(), v.JSON()) {
		t.Errorf("round trip = %#v, want %#v", back.JSON(), v.JSON())
	}
}

func TestWriteTSVRejectsRagged(t *testing.T) {
	l := testLib(t)
	row1 := strArray("a", "b")
	row2 := strArray("c")
	ragged := wdl.NewArray(wdl.Array{Item: wdl.StringType{}}, row1, row2)
	if _, err := l.Call("write_tsv", []wdl.Value{ragged}); err == nil {
		t.Error("write_tsv should reject ragged rows")
	}
}

func TestReadMap(t *testing.T) {
	l := testLib(t)
	path := filepath.Join(t.TempDir(), "m.tsv")
	if err := os.WriteFile(path, []byte("k1\tv1\nk2\tv2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := l.Call("read_map", []wdl.Value{wdl.NewFile(path)})
	if err != nil {
		t.Fatalf("read_map error: %v", err)
	}
	mv := got.(wdl.MapValue)
	if len(mv.Entries) != 2 || mv.Entries[0].Key.String() != "k1" || mv.Entries[1].Value.String() != "v2" {
		t.Errorf("read_map = %v", mv)
	}
}

func TestSize(t *testing.T) {
	l := testLib(t)
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := l.Call("size", []wdl.Value{wdl.NewFile(path), wdl.NewString("KiB")})
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if fv := got.(wdl.FloatValue); fv.V != 2.0 {
		t.Errorf("size = %v KiB, want 2", fv.V)
	}
}

func TestStdoutRequiresTaskContext(t *testing.T) {
	l := testLib(t)
	if _, err := l.Call("stdout", nil); err == nil {
		t.Error("stdout() outside task outputs should error")
	}
	bound := l.WithContext(&Context{StdoutPath: "/tmp/stdout.txt"})
	got, err := bound.Call("stdout", nil)
	if err != nil {
		t.Fatalf("stdout error: %v", err)
	}
	if got.String() != "/tmp/stdout.txt" {
		t.Errorf("stdout = %q", got)
	}
}

func TestInfer_SelectFirstStripsOptional(t *testing.T) {
	l := testLib(t)
	arg := &wdl.ExprArray{}
	arg.SetInferredType(wdl.Array{Item: wdl.Int{Opt: true}})
	apply := &wdl.ExprApply{Func: "select_first", Args: []wdl.Expr{arg}}
	got, err := l.Infer(apply)
	if err != nil {
		t.Fatalf("Infer error: %v", err)
	}
	if got.String() != "Int" {
		t.Errorf("select_first type = %s, want Int", got)
	}
}
