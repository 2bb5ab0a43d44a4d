package rag

import "errors"

var (
	// ErrIndexLoad 索引文件缺失、损坏或互相不一致
	ErrIndexLoad = errors.New("index load failed")
	// ErrDimensionMismatch 向量维度与索引维度不一致
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// errNoArtifacts 持久化目录中没有任何索引文件
	errNoArtifacts = errors.New("no index artifacts")
)
