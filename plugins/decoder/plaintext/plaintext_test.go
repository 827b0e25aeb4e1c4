package plaintext

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"humanizer/pkg/contract"
)

func TestDecode(t *testing.T) {
	d, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		name string
		raw  contract.Raw
		want string
	}{
		{"首尾空白", contract.Raw{Text: "  Plain text.\n\n"}, "Plain text."},
		{"代码围栏", contract.Raw{Text: "```\nFenced text.\n```"}, "Fenced text."},
		{"带语言的围栏", contract.Raw{Text: "```markdown\nOne.\n\nTwo.\n```\n"}, "One.\n\nTwo."},
		{"分隔符", contract.Raw{Text: "<text>\nInside.\n</text>"}, "Inside."},
		{"引导语", contract.Raw{Text: "Here is the rewritten text:\nBody stays."}, "Body stays."},
		{"保留段落", contract.Raw{Text: "A.\n\nB."}, "A.\n\nB."},
		{"截停但句子完整", contract.Raw{Text: "Complete sentence.", FinishReason: "length"}, "Complete sentence."},
		{"截停且以引号结尾", contract.Raw{Text: `He said "done."`, FinishReason: "MAX_TOKENS"}, `He said "done."`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.Decode(context.Background(), tc.raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	d, _ := New(nil)
	for _, raw := range []contract.Raw{
		{Text: ""},
		{Text: "   \n"},
		{Text: "<text></text>"},
		{Text: "The results were cut off in the mid", FinishReason: "length"},
	} {
		if _, err := d.Decode(context.Background(), raw); !errors.Is(err, contract.ErrResponseInvalid) {
			t.Fatalf("%q 应返回 ErrResponseInvalid, got %v", raw.Text, err)
		}
	}
}

func TestOptions(t *testing.T) {
	d, err := New(json.RawMessage(`{"allow_truncated":true,"keep_preamble":true}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := d.Decode(context.Background(), contract.Raw{Text: "Here is the rewritten text:\nhalf", FinishReason: "length"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "Here is the rewritten text:\nhalf" {
		t.Fatalf("got %q", got)
	}
	if _, err := New(json.RawMessage(`{"unknown":1}`)); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知字段应报错: %v", err)
	}
}

func TestDecodeCanceled(t *testing.T) {
	d, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Decode(ctx, contract.Raw{Text: "x."}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消错误: %v", err)
	}
}
