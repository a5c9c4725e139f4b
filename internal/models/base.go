package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// BaseModel 基础模型，所有带自增主键的表共用
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONMap 任意结构的JSON对象
type JSONMap map[string]interface{}

// ToJSON 将任意值编码为JSON列，编码失败时返回null
func ToJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

// UintList 将ID列表编码为JSON列
func UintList(ids []uint) datatypes.JSON {
	if ids == nil {
		ids = []uint{}
	}
	return ToJSON(ids)
}

// DecodeUintList 解析JSON列中的ID列表
func DecodeUintList(data datatypes.JSON) []uint {
	var ids []uint
	if len(data) == 0 {
		return ids
	}
	_ = json.Unmarshal(data, &ids)
	return ids
}

// DecodeMap 解析JSON列中的对象，失败时返回空map
func DecodeMap(data datatypes.JSON) JSONMap {
	m := JSONMap{}
	if len(data) == 0 {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return JSONMap{}
	}
	return m
}
