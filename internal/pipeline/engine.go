package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"humanizer/internal/diag"
	"humanizer/internal/invoke"
	"humanizer/internal/lexical"
	"humanizer/internal/perturb"
	"humanizer/internal/postprocess"
	"humanizer/internal/profile"
	"humanizer/internal/rebalance"
	"humanizer/internal/segment"
	"humanizer/internal/store"
	"humanizer/pkg/contract"
)

// - 单次运行同步执行：阶段 i 的输出即阶段 i+1 的输入。
// - 首个失败阶段终止运行，后续阶段不执行，不提升任何中间输出为最终结果。
// - 编排层不重试；瞬时错误的重试只在 Invoker 内发生。
// - 运行状态保存在 Run 值中并交还调用方，引擎本身不持有跨请求状态。

// Cache 为可选的结果备忘（*store.Store 满足该接口）。
type Cache interface {
	Get(ctx context.Context, key string, maxAge time.Duration) (store.Entry, bool, error)
	Put(ctx context.Context, key, profile, output string) error
}

// Engine 为单一可配置引擎：行为完全由传入的 StyleContract 列表决定。
// 字段在构造后只读；同一 Engine 可被多个 goroutine 并发调用。
type Engine struct {
	Builder contract.PromptBuilder
	Invoker *invoke.Invoker

	// Seed: 扰动随机源种子；0 表示按输入内容派生（同输入可复现）。
	Seed uint64
	// StageTimeout: 单阶段超时；<=0 不限。
	StageTimeout time.Duration
	// Dedupe: 后处理去重。
	Dedupe bool

	// 结果备忘（可选）
	Cache       Cache
	CacheMaxAge time.Duration
	ProfileName string

	Logger *diag.Logger
}

// Status 为运行/阶段状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StageRecord 记录单个阶段的执行情况。
type StageRecord struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Output   string        `json:"output,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`

	Rebalance rebalance.Stats `json:"rebalance"`
	Perturb   perturb.Stats   `json:"perturb,omitempty"`
}

// Run 为一次运行的显式状态值。
type Run struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	// Stage: 当前（或失败时的）阶段序号，1 起；未开始为 0。
	Stage       int               `json:"stage"`
	Stages      []StageRecord     `json:"stages"`
	Notices     []contract.Notice `json:"notices,omitempty"`
	Invocations int               `json:"invocations"`
	Seed        uint64            `json:"seed"`
	Started     time.Time         `json:"started"`
	Finished    time.Time         `json:"finished"`
}

// Outputs 返回已成功阶段的输出（按阶段顺序）。
func (r Run) Outputs() []string {
	out := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		if s.Status == StatusSucceeded {
			out = append(out, s.Output)
		}
	}
	return out
}

// Counts 为文本的词/字符计数。
type Counts struct {
	Words int `json:"words"`
	Chars int `json:"chars"`
}

func countOf(s string) Counts {
	return Counts{Words: segment.WordCount(s), Chars: len([]rune(s))}
}

// Result 为调用方可见的运行结果。失败时 Text 为空。
type Result struct {
	Text   string `json:"text,omitempty"`
	Empty  bool   `json:"empty"`
	Cached bool   `json:"cached"`
	Run    Run    `json:"run"`
	Input  Counts `json:"input"`
	Output Counts `json:"output"`
}

// ErrorKind 区分失败类别。
type ErrorKind string

const (
	KindStageFailed   ErrorKind = "stage_failed"
	KindInvalidConfig ErrorKind = "invalid_config"
)

// Error 为 Humanize 返回的唯一错误类型。
type Error struct {
	Kind      ErrorKind
	Stage     int // 1 起；配置错误与阶段无关时为 0
	StageName string
	Err       error
}

func (e *Error) Error() string {
	if e.Stage > 0 {
		return fmt.Sprintf("%s at stage %d (%s): %v", e.Kind, e.Stage, e.StageName, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// compiled 为阶段的本地预处理器。
type compiled struct {
	sc  contract.StyleContract
	lex *lexical.Simplifier
	rb  *rebalance.Rebalancer
	pt  *perturb.Pass
}

// Humanize 对单个文档执行全部阶段。
// 空白输入直接返回 Empty 结果，不调用任何阶段。
func (e *Engine) Humanize(ctx context.Context, document string, stages []contract.StyleContract) (Result, error) {
	return e.humanize(ctx, "", document, stages)
}

func (e *Engine) humanize(ctx context.Context, fileID, document string, stages []contract.StyleContract) (Result, error) {
	run := Run{ID: uuid.NewString(), Status: StatusPending, Started: time.Now()}
	if strings.TrimSpace(document) == "" {
		run.Status = StatusSucceeded
		run.Finished = run.Started
		return Result{Empty: true, Run: run}, nil
	}
	res := Result{Input: countOf(document)}
	if e == nil {
		run.Status = StatusFailed
		res.Run = run
		return res, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("pipeline: %w: nil engine", contract.ErrInvalidInput)}
	}
	plan, err := e.compile(stages)
	if err != nil {
		run.Status = StatusFailed
		run.Finished = time.Now()
		res.Run = run
		e.Logger.ErrorWith("pipeline", string(diag.Classify(err)), "invalid config: "+err.Error(), nil, fileID, "")
		return res, err
	}
	for _, c := range plan {
		run.Stages = append(run.Stages, StageRecord{Index: len(run.Stages) + 1, Name: c.sc.Name, Status: StatusPending})
	}
	run.Seed = e.seedFor(document)

	var key string
	if e.Cache != nil {
		key = e.cacheKey(document, stages)
		if ent, ok, cerr := e.Cache.Get(ctx, key, e.CacheMaxAge); cerr != nil {
			e.Logger.Warn("cache", string(diag.Classify(cerr)), "cache get failed: "+cerr.Error(), fileID, "", nil)
		} else if ok {
			diag.IncOp("cache", "get", "hit")
			run.Status = StatusSucceeded
			run.Finished = time.Now()
			for i := range run.Stages {
				run.Stages[i].Status = StatusSkipped
			}
			res.Text, res.Cached, res.Run = ent.Output, true, run
			res.Output = countOf(ent.Output)
			return res, nil
		}
		diag.IncOp("cache", "get", "miss")
	}

	src := perturb.NewSource(run.Seed)
	t0 := e.Logger.StartWithKV("pipeline", "run", fileID, "", map[string]string{
		"run_id": run.ID,
		"stages": strconv.Itoa(len(plan)),
	})
	run.Status = StatusRunning
	input := document
	for i, c := range plan {
		idx := i + 1
		run.Stage = idx
		rec := &run.Stages[i]
		rec.Status = StatusRunning
		if t := diag.GetTerminal(); t != nil {
			t.StageProgress(i, len(plan), c.sc.Name)
		}
		start := time.Now()
		out, notices, serr := e.runStage(ctx, fileID, idx, c, input, src, rec)
		rec.Duration = time.Since(start)
		diag.ObserveDuration("stage", c.sc.Name, rec.Duration.Milliseconds())
		run.Invocations += rec.Attempts
		for _, n := range notices {
			n.Stage = idx
			run.Notices = append(run.Notices, n)
			if t := diag.GetTerminal(); t != nil {
				t.Notice(fileID, n)
			}
		}
		if serr != nil {
			rec.Error = serr.Error()
			if c.sc.Optional && ctx.Err() == nil {
				rec.Status = StatusSkipped
				n := contract.Notice{Kind: contract.NoticeStageSkipped, Stage: idx,
					Message: fmt.Sprintf("optional stage %q failed and was skipped: %v", c.sc.Name, serr)}
				run.Notices = append(run.Notices, n)
				if t := diag.GetTerminal(); t != nil {
					t.Notice(fileID, n)
				}
				e.Logger.Warn("pipeline", string(diag.Classify(serr)), n.Message, fileID, stepID(idx, c.sc.Name), nil)
				diag.IncOp("stage", "skip", "skipped")
				continue
			}
			rec.Status = StatusFailed
			run.Status = StatusFailed
			run.Finished = time.Now()
			res.Run = run
			e.Logger.ErrorWith("pipeline", string(diag.Classify(serr)), "stage failed", nil, fileID, stepID(idx, c.sc.Name))
			diag.IncOp("stage", "error", "error")
			return res, &Error{Kind: KindStageFailed, Stage: idx, StageName: c.sc.Name, Err: serr}
		}
		rec.Status = StatusSucceeded
		rec.Output = out
		diag.IncOp("stage", "finish", "success")
		input = out
	}
	if t := diag.GetTerminal(); t != nil {
		t.StageProgress(len(plan), len(plan), "")
	}

	final := postprocess.Process(input, postprocess.Options{Dedupe: e.Dedupe})
	run.Status = StatusSucceeded
	run.Finished = time.Now()
	res.Text, res.Run = final, run
	res.Output = countOf(final)
	t0.FinishKV("run", int64(run.Invocations), map[string]string{"run_id": run.ID})

	if e.Cache != nil {
		if perr := e.Cache.Put(ctx, key, e.ProfileName, final); perr != nil {
			e.Logger.Warn("cache", string(diag.Classify(perr)), "cache put failed: "+perr.Error(), fileID, "", nil)
		} else {
			diag.IncOp("cache", "put", "success")
		}
	}
	return res, nil
}

// compile 校验阶段并构造本地预处理器；任何错误均为 invalid_config。
func (e *Engine) compile(stages []contract.StyleContract) ([]compiled, error) {
	if e.Builder == nil || e.Invoker == nil {
		return nil, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("pipeline: %w: engine needs a prompt builder and an invoker", contract.ErrInvalidInput)}
	}
	if len(stages) == 0 {
		return nil, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("pipeline: %w: no stages", contract.ErrInvalidInput)}
	}
	plan := make([]compiled, 0, len(stages))
	for i, sc := range stages {
		bad := func(err error) error {
			return &Error{Kind: KindInvalidConfig, Stage: i + 1, StageName: sc.Name, Err: err}
		}
		if err := sc.Validate(); err != nil {
			return nil, bad(err)
		}
		c := compiled{sc: sc.Clone()}
		var err error
		if c.lex, err = lexical.New(sc.Substitutions); err != nil {
			return nil, bad(err)
		}
		if sc.Rebalance.Enabled {
			if c.rb, err = rebalance.New(sc.Rebalance); err != nil {
				return nil, bad(err)
			}
		}
		if c.pt, err = perturb.New(sc.Perturb); err != nil {
			return nil, bad(err)
		}
		plan = append(plan, c)
	}
	return plan, nil
}

// runStage: 词汇替换 → 分句 → 句长纠正 → 结构扰动 → 构造提示 → 调用。
func (e *Engine) runStage(ctx context.Context, fileID string, idx int, c compiled, input string, src perturb.Source, rec *StageRecord) (string, []contract.Notice, error) {
	if e.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.StageTimeout)
		defer cancel()
	}
	step := stepID(idx, c.sc.Name)

	text := c.lex.Apply(input)
	doc := segment.Parse(text)
	if c.rb != nil {
		doc, rec.Rebalance = c.rb.Apply(doc)
	}
	if c.pt.Len() > 0 {
		doc, rec.Perturb = c.pt.Apply(doc, src)
	}
	local := doc.String()
	e.Logger.DebugStart("pipeline", "local", fileID, step, map[string]string{
		"sentences": strconv.Itoa(doc.SentenceCount()),
		"split":     strconv.Itoa(rec.Rebalance.Split),
		"extended":  strconv.Itoa(rec.Rebalance.Extended),
	})

	bt := e.Logger.StartWith("prompt_builder", "build", fileID, step)
	p, notices, err := e.Builder.Build(ctx, c.sc, local)
	if err != nil {
		e.Logger.ErrorWith("prompt_builder", string(diag.Classify(err)), "build failed", nil, fileID, step)
		diag.IncOp("prompt_builder", "error", "error")
		return "", nil, fmt.Errorf("prompt build: %w", err)
	}
	bt.Finish("build", int64(len(p.User)))
	diag.IncOp("prompt_builder", "finish", "success")

	out, err := e.Invoker.Invoke(ctx, invoke.Call{
		FileID:     fileID,
		Step:       step,
		Contract:   c.sc,
		Prompt:     p,
		InputWords: segment.WordCount(local),
	})
	if err != nil {
		var se *contract.ServiceError
		if errors.As(err, &se) {
			rec.Attempts = se.Attempts
		}
		return "", notices, err
	}
	rec.Attempts = out.Attempts
	notices = append(notices, bannedNotices(c.sc.BannedPhrases, out.Text)...)
	return out.Text, notices, nil
}

// bannedNotices 检查输出是否仍含禁用短语（大小写不敏感）。
func bannedNotices(banned []string, text string) []contract.Notice {
	if len(banned) == 0 {
		return nil
	}
	low := strings.ToLower(text)
	var out []contract.Notice
	for _, b := range banned {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if strings.Contains(low, strings.ToLower(b)) {
			out = append(out, contract.Notice{Kind: contract.NoticeBannedPhrase, Message: fmt.Sprintf("output still contains banned phrase %q", b)})
		}
	}
	return out
}

func (e *Engine) seedFor(document string) uint64 {
	if e.Seed != 0 {
		return e.Seed
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(document))
	return h.Sum64()
}

// cacheKey 在阶段指纹之外并入提供方、各阶段实际模型与固定种子；
// 种子为 0 时由输入派生，已由输入本身覆盖。
func (e *Engine) cacheKey(document string, stages []contract.StyleContract) string {
	var b strings.Builder
	b.WriteString(profile.Fingerprint(stages, e.Dedupe))
	b.WriteString("\x00provider=")
	b.WriteString(e.Invoker.ProviderName())
	for _, sc := range stages {
		b.WriteString("\x00model=")
		b.WriteString(e.Invoker.Model(sc.Model))
	}
	b.WriteString("\x00seed=")
	b.WriteString(strconv.FormatUint(e.Seed, 10))
	return store.Key(document, b.String())
}

func stepID(idx int, name string) string {
	return strconv.Itoa(idx) + ":" + name
}
