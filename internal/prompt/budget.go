package prompt

import (
	"math"

	"humanizer/pkg/contract"
)

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// EstimateOutputBudget 线性估算输出 token 上限：clamp(words×ratio+buffer, floor, ceiling)。
// 结果对 inputWords 单调不减，且始终落在 [floor, ceiling]。
func EstimateOutputBudget(inputWords int, b contract.Budget) int {
	if inputWords < 0 {
		inputWords = 0
	}
	est := int(math.Ceil(float64(inputWords)*b.Ratio)) + b.Buffer
	if est > b.Ceiling {
		est = b.Ceiling
	}
	if est < b.Floor {
		est = b.Floor
	}
	return est
}

// OutputBudget 返回阶段的输出上限：固定值优先，否则按 Budget 估算。
func OutputBudget(sc contract.StyleContract, inputWords int) int {
	if sc.MaxOutputTokens > 0 {
		return sc.MaxOutputTokens
	}
	return EstimateOutputBudget(inputWords, sc.Budget)
}

// Overhead 估算阶段的固定提示开销（token），用于日志与预算诊断。
func Overhead(pb contract.PromptBuilder, sc contract.StyleContract, bytesPerToken int) int {
	if pb == nil {
		return 0
	}
	return pb.EstimateOverheadTokens(sc, MakeEstimator(bytesPerToken))
}
