// Package retrieval 实现混合检索：语义索引与关键词索引的加权融合。
//
// 两路结果各自做 Min-Max 归一化后按 alpha 加权合并
// （alpha=1 纯语义，alpha=0 纯关键词），并按父子块血缘去重：
// 命中子块时返回父块上下文，排名沿用子块的最优分数。
// 单路索引不可达时降级到另一路，两路均不可达才报 RETRIEVAL_FAILED。
package retrieval
