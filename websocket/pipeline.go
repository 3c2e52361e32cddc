package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/model"
	"voice-gateway/sentence"
	"voice-gateway/store"
	"voice-gateway/utils/llm"
)

// Transcriber 把一段PCM识别为文本
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Responder 根据对话历史生成回复
type Responder interface {
	Respond(ctx context.Context, history []model.Dialogue) (string, error)
}

// TurnRecorder 保存对话记录
type TurnRecorder interface {
	RecordTurn(ctx context.Context, t store.Turn) error
}

// abortWait Abort 等待当前任务退出的最长时间
const abortWait = time.Second

type utteranceJob struct {
	samples    []float32
	sampleRate int
	gen        uint64
}

// Pipeline 会话的识别→对话→合成流水线
// 任务在独立协程中按顺序执行，每个任务有自己可取消的ctx。
type Pipeline struct {
	ctx          context.Context
	asr          Transcriber
	responder    Responder
	sender       *Sender
	conversation *llm.Conversation
	recorder     TurnRecorder
	metrics      *metrics.Metrics
	sessionID    string
	deviceID     string

	jobs chan utteranceJob

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	running chan struct{}
}

// PipelineOptions 流水线依赖
type PipelineOptions struct {
	Transcriber  Transcriber
	Responder    Responder
	Sender       *Sender
	Conversation *llm.Conversation
	Recorder     TurnRecorder // 可以为nil
	Metrics      *metrics.Metrics
	SessionID    string
	DeviceID     string
	QueueSize    int
}

// NewPipeline 创建流水线，ctx 为连接的生命周期
func NewPipeline(ctx context.Context, opts PipelineOptions) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4
	}
	return &Pipeline{
		ctx:          ctx,
		asr:          opts.Transcriber,
		responder:    opts.Responder,
		sender:       opts.Sender,
		conversation: opts.Conversation,
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
		sessionID:    opts.SessionID,
		deviceID:     opts.DeviceID,
		jobs:         make(chan utteranceJob, opts.QueueSize),
	}
}

// Submit 提交一段待识别的语音，队列满时丢弃并返回false
func (p *Pipeline) Submit(samples []float32, sampleRate int) bool {
	p.mu.Lock()
	job := utteranceJob{samples: samples, sampleRate: sampleRate, gen: p.gen}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	default:
		log.Warnf("会话 %s 识别队列已满，丢弃 %d 个采样", p.sessionID, len(samples))
		return false
	}
}

// Abort 取消正在执行的任务并丢弃排队的任务
// 返回前等待当前任务退出（最多 abortWait），之后不会再有该任务的消息入队。
func (p *Pipeline) Abort() {
	p.mu.Lock()
	p.gen++
	if p.cancel != nil {
		p.cancel()
	}
	running := p.running
	p.mu.Unlock()

drain:
	for {
		select {
		case <-p.jobs:
		default:
			break drain
		}
	}

	if running != nil {
		select {
		case <-running:
		case <-time.After(abortWait):
			log.Warnf("会话 %s 中止等待超时", p.sessionID)
		}
	}
}

// Run 消费任务直到连接关闭
func (p *Pipeline) Run() {
	defer log.Debugf("会话 %s 流水线协程已退出", p.sessionID)

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			ctx, done, ok := p.startJob(job)
			if !ok {
				continue
			}
			if err := p.Process(ctx, job.samples, job.sampleRate); err != nil && ctx.Err() == nil {
				log.Errorf("会话 %s 处理语音失败: %v", p.sessionID, err)
			}
			done()
		}
	}
}

func (p *Pipeline) startJob(job utteranceJob) (context.Context, func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.gen != p.gen {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	running := make(chan struct{})
	p.cancel = cancel
	p.running = running

	return ctx, func() {
		p.mu.Lock()
		cancel()
		p.cancel = nil
		p.running = nil
		p.mu.Unlock()
		close(running)
	}, true
}

// Process 识别一段语音并流式下发回复
// 参数:
//   - ctx: 任务上下文，中止时取消
//   - samples: 单声道PCM
//   - sampleRate: 采样率
//
// 返回:
//   - error: 任一阶段失败的错误；已通知客户端
func (p *Pipeline) Process(ctx context.Context, samples []float32, sampleRate int) error {
	start := time.Now()
	text, err := p.asr.Transcribe(ctx, samples, sampleRate)
	p.metrics.ObserveStage(metrics.StageASR, start, err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.notifyError(ctx, err, false)
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Debugf("会话 %s 识别结果为空，忽略", p.sessionID)
		return nil
	}
	log.Infof("设备 %s 说: %s", p.deviceID, text)

	if err := p.sender.SendCommand(ctx, model.ConnectionCommand{Type: "stt", Text: text, Session: p.sessionID}); err != nil {
		return err
	}
	if err := p.sender.SendCommand(ctx, model.NewTTSCommand(model.TTSStart, "")); err != nil {
		return err
	}

	p.conversation.AddUser(text)
	start = time.Now()
	reply, err := p.responder.Respond(ctx, p.conversation.History())
	p.metrics.ObserveStage(metrics.StageLLM, start, err)
	if err != nil {
		p.conversation.RollbackUser()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.notifyError(ctx, err, true)
		return err
	}
	p.conversation.AddAssistant(reply)
	log.Infof("回复设备 %s: %s", p.deviceID, reply)
	p.record(text, reply)

	for _, s := range sentence.Split(reply) {
		if err := p.sender.StreamSentence(ctx, s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 下发中途失败也要让客户端结束本轮播放
			p.notifyError(ctx, err, true)
			return err
		}
	}

	return p.sender.SendCommand(ctx, model.NewTTSCommand(model.TTSStop, ""))
}

// notifyError 发送错误事件，已经发过start时补发stop
func (p *Pipeline) notifyError(ctx context.Context, err error, started bool) {
	cmd := model.NewTTSCommand(model.TTSError, "")
	cmd.Error = err.Error()
	if sendErr := p.sender.SendCommand(ctx, cmd); sendErr != nil {
		return
	}
	if started {
		_ = p.sender.SendCommand(ctx, model.NewTTSCommand(model.TTSStop, ""))
	}
}

func (p *Pipeline) record(userText, reply string) {
	if p.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.recorder.RecordTurn(ctx, store.Turn{
		SessionID:     p.sessionID,
		DeviceID:      p.deviceID,
		UserText:      userText,
		AssistantText: reply,
	})
	if err != nil {
		log.Warnf("保存对话记录失败: %v", err)
	}
}
