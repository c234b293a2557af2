// Package pipeline 实现纠偏式检索-生成管线的编排状态机。
//
// 状态机为显式枚举状态加纯转换函数，不依赖反射或动态分发：
//
//	DECIDING → RETRIEVING → GRADING → QUALITY_CHECK
//	    → {REWRITING → DECIDING | GENERATING}
//	    → CONFIDENCE_CHECK → {RESPONDING | INSUFFICIENT} → DONE
//
// 未恢复的检索/生成错误强制进入终态 ERRORED（DONE 的兄弟状态）。
// 编排器是事件的唯一生产者，按生产顺序写入事件通道，由流会话消费。
package pipeline
