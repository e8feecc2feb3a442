package model

// AllModels 返回所有需要迁移的数据库模型对象
// 新增表时在这里添加，同时补一个 migrations/ 下的 SQL 文件
func AllModels() []interface{} {
	return []interface{}{
		&MasterViewSeed{},
		&ExpectedStateObject{},
		&Balance{},
		&Intent{},
		&ProcessedRecoveryID{},
		&ProcessedNullifier{},
		&IndexingCursor{},
		&RetainedMessage{},
		&DeadLetter{},
	}
}
