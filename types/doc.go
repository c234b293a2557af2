// Package types 定义 queryflow 各组件共享的领域类型：
// 检索候选、评分文档、答案封包、流事件以及统一错误码。
//
// 该包不依赖任何其他 queryflow 包，位于依赖图的最底层。
package types
