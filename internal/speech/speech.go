// Package speech converts between voice messages and text with OpenAI audio
// endpoints.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/voice-bot/internal/namegen"
	"go.uber.org/zap"
)

// AudioAPI is the part of *openai.Client used here.
type AudioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// File is an in-memory audio buffer.
type File struct {
	Name string
	Data []byte
}

type WhisperTranscriber struct {
	api    AudioAPI
	model  string
	logger *zap.Logger
}

func NewWhisperTranscriber(api AudioAPI, model string, logger *zap.Logger) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{api: api, model: model, logger: logger}
}

// Transcribe sends an OGG/Opus voice note to Whisper.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, name namegen.Func) (string, error) {
	fileName := name(".ogg")
	resp, err := t.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: fileName,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", fileName, err)
	}

	t.logger.Debug("Transcribed voice",
		zap.String("file", fileName),
		zap.Int("bytes", len(audio)),
		zap.Int("chars", len(resp.Text)))

	return strings.TrimSpace(resp.Text), nil
}

type TTSSynthesizer struct {
	api    AudioAPI
	model  string
	voice  string
	logger *zap.Logger
}

func NewTTSSynthesizer(api AudioAPI, model, voice string, logger *zap.Logger) *TTSSynthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &TTSSynthesizer{api: api, model: model, voice: voice, logger: logger}
}

// Synthesize returns Opus audio that Telegram accepts as a voice message.
func (s *TTSSynthesizer) Synthesize(ctx context.Context, text string, name namegen.Func) (File, error) {
	resp, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		return File{}, fmt.Errorf("synthesizing speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return File{}, fmt.Errorf("reading speech: %w", err)
	}

	file := File{Name: name(".ogg"), Data: data}
	s.logger.Debug("Synthesized speech",
		zap.String("file", file.Name),
		zap.Int("bytes", len(data)))

	return file, nil
}
