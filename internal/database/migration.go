package database

import (
	"fmt"

	"github.com/wfunc/influence-rpg/internal/logger"
	"github.com/wfunc/influence-rpg/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models 需要迁移的模型列表
func Models() []interface{} {
	return []interface{}{
		// 世界与规则
		&models.Ruleset{},
		&models.RulesetChunk{},
		&models.Universe{},

		// 玩家
		&models.User{},
		&models.Character{},
		&models.Notification{},

		// 游戏
		&models.Game{},
		&models.UniverseGame{},
		&models.GamePlayer{},
		&models.ChatMessage{},
		&models.GameSummary{},

		// 叙事账本
		&models.UniverseEvent{},
		&models.Conflict{},
		&models.Merger{},
		&models.Branch{},
		&models.News{},
		&models.NamedEntity{},
	}
}

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	CleanupStaleLocks()

	// 获取迁移锁，避免 serve 和 worker 同时迁移
	if dbPath := getDBPath(DB); dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	return Migrate(DB)
}

// Migrate 在指定连接上迁移表结构、创建索引并写入默认数据
func Migrate(db *gorm.DB) error {
	logger.Debug("开始数据库迁移...")

	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
	}

	createIndexes(db)

	if err := initDefaultData(db); err != nil {
		return err
	}

	logger.Debug("数据库迁移完成")
	return nil
}

// createIndexes 创建组合查询索引，失败只告警
func createIndexes(db *gorm.DB) {
	indexes := map[string]string{
		"idx_events_universe_id_desc": "CREATE INDEX IF NOT EXISTS idx_events_universe_id_desc ON universe_events(universe_id, id)",
		"idx_chat_game_id":            "CREATE INDEX IF NOT EXISTS idx_chat_game_id ON chat_messages(game_id, id)",
		"idx_summary_game_date":       "CREATE INDEX IF NOT EXISTS idx_summary_game_date ON game_summaries(game_id, summary_date)",
		"idx_news_universe_published": "CREATE INDEX IF NOT EXISTS idx_news_universe_published ON news(universe_id, published_at)",
	}

	for name, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", name), zap.Error(err))
		}
	}
}

// DefaultRulesetName 默认规则集名称
const DefaultRulesetName = "Influence Core Rules"

// initDefaultData 初始化默认规则集
func initDefaultData(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Ruleset{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		ruleset := &models.Ruleset{
			Name:        DefaultRulesetName,
			Description: "The baseline rules for influence-driven tabletop play.",
			Summary:     "Characters gain and spend influence to sway factions. Contested actions are resolved with dice.",
			LongSummary: "Every character tracks influence with the factions of a universe. " +
				"When an outcome is uncertain the Game Master calls for a roll; higher totals succeed. " +
				"Games that share a universe leak consequences into each other through news and events.",
		}
		if err := tx.Create(ruleset).Error; err != nil {
			return err
		}

		chunks := []models.RulesetChunk{
			{RulesetID: ruleset.ID, Ordinal: 0, Content: "Influence is earned by keeping promises to a faction and lost by betraying them."},
			{RulesetID: ruleset.ID, Ordinal: 1, Content: "Contested actions use a d20 roll. A total of 10 or more succeeds, 20 is a critical success."},
			{RulesetID: ruleset.ID, Ordinal: 2, Content: "Initiative is rolled with a d20 at the start of any confrontation; the highest acts first."},
		}
		return tx.Create(&chunks).Error
	})
}

// DropAllTables 删除所有表（仅用于测试）
func DropAllTables(db *gorm.DB) error {
	return db.Migrator().DropTable(Models()...)
}
