package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"humanizer/internal/diag"
	"humanizer/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；每个文档一次独立运行，仅共享限流闸门。
// - 顺序门闩：结果按输入顺序提交给 Writer；乱序完成的结果暂存，连续冲刷。
// - 文档失败不影响其他文档；读取/写出错误视为基础设施错误，首错取消整体。

// Batch 为批量运行的组件与参数。
type Batch struct {
	Reader contract.Reader
	Writer contract.Writer
	Inputs []string
	// Concurrency: 同时运行的文档数（>=1）。
	Concurrency int
	// Report: 为每个文档额外写出 <name>.run.json 运行报告。
	Report bool
}

// FileOutcome 为单个文档的结果摘要。
type FileOutcome struct {
	FileID   contract.FileID `json:"file_id"`
	Artifact string          `json:"artifact,omitempty"`
	OK       bool            `json:"ok"`
	Cached   bool            `json:"cached"`
	Empty    bool            `json:"empty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

// Summary 为批量运行结果（Files 与输入顺序一致）。
type Summary struct {
	Files  []FileOutcome `json:"files"`
	Failed int           `json:"failed"`
}

type docJob struct {
	seq  int
	id   contract.FileID
	text string
}

type docResult struct {
	seq int
	id  contract.FileID
	res Result
	err error
	dur time.Duration
}

// RunFiles 读取全部输入文档，以有界并发执行 Humanize，并按输入顺序写出结果。
// 返回的错误：基础设施错误优先；否则若有文档失败，返回首个失败文档的错误。
func (e *Engine) RunFiles(ctx context.Context, b Batch, stages []contract.StyleContract) (Summary, error) {
	if b.Reader == nil || b.Writer == nil {
		return Summary{}, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("pipeline: %w: missing reader or writer", contract.ErrInvalidInput)}
	}
	// 配置错误在读取任何输入前暴露
	if e == nil {
		return Summary{}, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("pipeline: %w: nil engine", contract.ErrInvalidInput)}
	}
	if _, err := e.compile(stages); err != nil {
		return Summary{}, err
	}
	n := b.Concurrency
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inCh := make(chan docJob, n*2)
	outCh := make(chan docResult, n*2)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := range inCh {
				if t := diag.GetTerminal(); t != nil {
					t.FileStart(string(j.id), len(stages))
				}
				start := time.Now()
				res, err := e.humanize(ctx, string(j.id), j.text, stages)
				outCh <- docResult{seq: j.seq, id: j.id, res: res, err: err, dur: time.Since(start)}
			}
		}()
	}

	// 生产者：Reader 按稳定顺序交付文档
	var readErr error
	total := 0
	go func() {
		defer close(inCh)
		rt := e.Logger.Start("reader", "iterate")
		err := b.Reader.Iterate(ctx, b.Inputs, func(id contract.FileID, rc io.ReadCloser) error {
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("read %s: %w", id, err)
			}
			j := docJob{seq: total, id: id, text: string(data)}
			total++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case inCh <- j:
				return nil
			}
		})
		if err != nil {
			e.Logger.Error("reader", string(diag.Classify(err)), "iterate failed: "+err.Error(), nil)
			diag.IncOp("reader", "error", "error")
			readErr = err
			cancel()
			return
		}
		rt.Finish("iterate", int64(total))
		diag.IncOp("reader", "finish", "success")
	}()

	go func() {
		wg.Wait()
		close(outCh)
	}()

	// 提交门闩
	var (
		sum      Summary
		firstErr error // 基础设施错误
		docErr   error // 首个失败文档
		expect   int
		buf      = make(map[int]docResult)
	)
	for r := range outCh {
		buf[r.seq] = r
		for {
			cur, ok := buf[expect]
			if !ok {
				break
			}
			delete(buf, expect)
			expect++
			fo := FileOutcome{FileID: cur.id, OK: cur.err == nil, Cached: cur.res.Cached, Empty: cur.res.Empty, Duration: cur.dur}
			if cur.err != nil {
				fo.Error = cur.err.Error()
				sum.Failed++
				if docErr == nil {
					docErr = fmt.Errorf("%s: %w", cur.id, cur.err)
				}
			}
			if firstErr == nil {
				if werr := e.commit(ctx, b, cur, &fo); werr != nil {
					firstErr = werr
					cancel()
				}
			}
			if t := diag.GetTerminal(); t != nil {
				t.FileFinish(string(cur.id), fo.OK, fo.Cached, cur.dur)
			}
			sum.Files = append(sum.Files, fo)
		}
	}

	if firstErr != nil {
		return sum, firstErr
	}
	if readErr != nil {
		return sum, fmt.Errorf("reader iterate: %w", readErr)
	}
	if err := ctx.Err(); err != nil && docErr == nil {
		return sum, err
	}
	if docErr != nil {
		return sum, fmt.Errorf("%d of %d documents failed; first: %w", sum.Failed, len(sum.Files), docErr)
	}
	return sum, nil
}

// commit 写出单个文档的结果与（可选）运行报告。失败文档只写报告。
func (e *Engine) commit(ctx context.Context, b Batch, r docResult, fo *FileOutcome) error {
	if r.err == nil {
		name := contract.ArtifactName(r.id)
		wt := e.Logger.StartWith("writer", "write", string(r.id), "")
		if err := b.Writer.Write(ctx, name, strings.NewReader(withNewline(r.res.Text))); err != nil {
			e.Logger.ErrorWith("writer", string(diag.Classify(err)), "write failed: "+err.Error(), nil, string(r.id), "")
			diag.IncOp("writer", "error", "error")
			return fmt.Errorf("writer write %s: %w", name, err)
		}
		wt.Finish("write", int64(len(r.res.Text)))
		diag.IncOp("writer", "finish", "success")
		fo.Artifact = string(name)
	}
	if !b.Report {
		return nil
	}
	rep := struct {
		FileID contract.FileID `json:"file_id"`
		OK     bool            `json:"ok"`
		Error  *errorReport    `json:"error,omitempty"`
		Result Result          `json:"result"`
	}{FileID: r.id, OK: r.err == nil, Result: r.res}
	if r.err != nil {
		rep.Error = newErrorReport(r.err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("report encode: %w", err)
	}
	name := contract.ReportName(r.id)
	if err := b.Writer.Write(ctx, name, bytes.NewReader(append(data, '\n'))); err != nil {
		e.Logger.ErrorWith("writer", string(diag.Classify(err)), "report write failed: "+err.Error(), nil, string(r.id), "")
		diag.IncOp("writer", "error", "error")
		return fmt.Errorf("writer write %s: %w", name, err)
	}
	return nil
}

type errorReport struct {
	Kind      ErrorKind `json:"kind,omitempty"`
	Stage     int       `json:"stage,omitempty"`
	StageName string    `json:"stage_name,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

func newErrorReport(err error) *errorReport {
	rep := &errorReport{Code: string(diag.Classify(err)), Message: err.Error()}
	var pe *Error
	if errors.As(err, &pe) {
		rep.Kind, rep.Stage, rep.StageName = pe.Kind, pe.Stage, pe.StageName
	}
	return rep
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
