package tailer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/corralhq/corral/internal/core/constants"
)

// Backend log lines look like "[2025-11-03 14:22:01][INFO] message". Anything
// else is ignored.
var lineRe = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]\[(INFO|DEBUG|WARN|ERROR)\]\s?(.*)$`)

type ParsedLine struct {
	Timestamp string
	Level     string
	Message   string
	Raw       string
}

// ParseLine splits a raw log line into its timestamp, level and message.
// Reports false for malformed lines.
func ParseLine(raw string) (ParsedLine, bool) {
	m := lineRe.FindStringSubmatch(raw)
	if m == nil {
		return ParsedLine{}, false
	}
	return ParsedLine{
		Timestamp: m[1],
		Level:     m[2],
		Message:   m[3],
		Raw:       raw,
	}, true
}

var (
	progressRe   = regexp.MustCompile(`Prompt processing progress:\s*([0-9]+(?:\.[0-9]+)?)%`)
	cacheStatsRe = regexp.MustCompile(`Cache reuse summary:\s*(\d+)/(\d+) of prompt \(([0-9]+(?:\.[0-9]+)?)%\),\s*(\d+)\s+prefix,\s*(\d+)\s+non-prefix`)
	generateRe   = regexp.MustCompile(`Generate:\s.*n_ctx\s*=\s*(\d+).*n_batch\s*=\s*(\d+).*n_predict\s*=\s*(-?\d+).*n_keep\s*=\s*(\d+)`)
	promptTokRe  = regexp.MustCompile(`Total prompt tokens:\s*(\d+)`)
	decodeTokRe  = regexp.MustCompile(`Prompt tokens to decode:\s*(\d+)`)
	kvRe         = regexp.MustCompile(`([a-z_]+)\s*=\s*(-?[0-9]+(?:\.[0-9]+)?)`)
)

// samplingKeys is the accepted subset of llama.cpp sampling parameters.
var samplingKeys = map[string]struct{}{
	"repeat_last_n": {}, "repeat_penalty": {}, "frequency_penalty": {},
	"presence_penalty": {}, "dry_multiplier": {}, "dry_base": {},
	"dry_allowed_length": {}, "dry_penalty_last_n": {}, "top_k": {},
	"top_p": {}, "min_p": {}, "xtc_probability": {}, "xtc_threshold": {},
	"typical_p": {}, "top_n_sigma": {}, "temp": {}, "mirostat": {},
	"mirostat_lr": {}, "mirostat_ent": {},
}

// Extract inspects a parsed message for backend telemetry worth its own typed
// event. Reports false when the line is plain log noise.
func Extract(msg string) (string, map[string]any, bool) {
	switch {
	case strings.Contains(msg, "Running chat completion on conversation"):
		return constants.EventChatStart, map[string]any{"message": msg}, true

	case strings.Contains(msg, "Sampling params:"):
		return constants.EventSamplingParams, extractSamplingParams(msg), true

	case strings.Contains(msg, "BeginProcessingPrompt"):
		return constants.EventProcessingStart, map[string]any{"message": "BeginProcessingPrompt"}, true
	}

	if m := progressRe.FindStringSubmatch(msg); m != nil {
		progress, _ := strconv.ParseFloat(m[1], 64)
		return constants.EventPromptProgress, map[string]any{
			"progress": progress,
			"message":  msg,
		}, true
	}

	if m := cacheStatsRe.FindStringSubmatch(msg); m != nil {
		reused, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		percentage, _ := strconv.ParseFloat(m[3], 64)
		prefix, _ := strconv.Atoi(m[4])
		nonPrefix, _ := strconv.Atoi(m[5])
		return constants.EventCacheStats, map[string]any{
			"reused":     reused,
			"total":      total,
			"percentage": percentage,
			"prefix":     prefix,
			"non_prefix": nonPrefix,
			"message":    msg,
		}, true
	}

	if m := generateRe.FindStringSubmatch(msg); m != nil {
		nCtx, _ := strconv.Atoi(m[1])
		nBatch, _ := strconv.Atoi(m[2])
		nPredict, _ := strconv.Atoi(m[3])
		nKeep, _ := strconv.Atoi(m[4])
		return constants.EventTokenInfo, map[string]any{
			"n_ctx":     nCtx,
			"n_batch":   nBatch,
			"n_predict": nPredict,
			"n_keep":    nKeep,
		}, true
	}

	if m := promptTokRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return constants.EventTokenInfo, map[string]any{"total_prompt_tokens": n}, true
	}

	if m := decodeTokRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return constants.EventTokenInfo, map[string]any{"prompt_tokens_to_decode": n}, true
	}

	return "", nil, false
}

func extractSamplingParams(msg string) map[string]any {
	params := map[string]any{}
	for _, m := range kvRe.FindAllStringSubmatch(msg, -1) {
		key := m[1]
		if _, ok := samplingKeys[key]; !ok {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		params[key] = v
	}
	return params
}
