package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/go-viper/mapstructure/v2"
	"gorm.io/gorm"
)

// FileToMap 将 models.File 转换成可以直接写入 Redis Hash 的 map
func FileToMap(file *models.File) (map[string]any, error) {
	result, err := toHash(file)
	if err != nil {
		return nil, err
	}
	result["created_at"] = formatTime(file.CreatedAt)
	result["updated_at"] = formatTime(file.UpdatedAt)
	if file.DeletedAt.Valid {
		result["deleted_at"] = file.DeletedAt.Time.Format(time.RFC3339Nano)
	} else {
		result["deleted_at"] = ""
	}
	return result, nil
}

// MapToFile 将 Redis Hash 映射回 models.File
func MapToFile(dataMap map[string]string) (*models.File, error) {
	var file models.File
	if err := fromHash(dataMap, &file); err != nil {
		return nil, fmt.Errorf("failed to decode map to File struct: %w", err)
	}
	return &file, nil
}

// toHash 借助 json 标签把结构体展开为平铺的字符串 map，nil 指针写成空字符串
func toHash(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // 避免大整数经 float64 丢失精度
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	result := make(map[string]any, len(raw))
	for k, val := range raw {
		switch v := val.(type) {
		case nil:
			result[k] = ""
		case json.Number:
			result[k] = v.String()
		case bool:
			result[k] = strconv.FormatBool(v)
		case string:
			result[k] = v
		}
		// 嵌套对象与数组不写入 Hash
	}
	return result, nil
}

func fromHash(dataMap map[string]string, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "json", // 使用 'json' 标签来匹配 map 的键和结构体字段
		DecodeHook:  stringToFieldHook,
		ErrorUnused: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create map decoder: %w", err)
	}
	return decoder.Decode(dataMap)
}

// stringToFieldHook 把 Hash 中的字符串转换为目标字段类型
func stringToFieldHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)

	// 空字符串：指针为 nil，值类型为零值
	if s == "" {
		if t.Kind() == reflect.Ptr {
			return nil, nil
		}
		return reflect.Zero(t).Interface(), nil
	}

	switch t {
	case reflect.TypeOf(time.Time{}):
		return time.Parse(time.RFC3339Nano, s)
	case reflect.TypeOf(gorm.DeletedAt{}):
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return gorm.DeletedAt{Time: parsed, Valid: true}, nil
	}

	kind := t.Kind()
	if kind == reflect.Ptr {
		kind = t.Elem().Kind()
	}
	switch kind {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(s, 10, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(s, 10, 64)
	case reflect.Bool:
		return strconv.ParseBool(s)
	}
	return data, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
