package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// 诊断脚本：列出登记的联系人、可信发送者和外部存储里的位置记录
// 用法：go run check_contacts.go
func main() {
	// 从环境变量获取数据库连接信息，如果没有则使用默认值
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		parseInt(getEnv("DB_PORT", "5432"), 5432),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "rakshak"),
		getEnv("DB_SSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	fmt.Println("=== contacts ===")
	rows, err := db.Query(`
		SELECT contact_id, display_name, phone_number, normalized_phone, secret_code, updated_at
		FROM contacts
		ORDER BY created_at;
	`)
	if err != nil {
		log.Fatalf("Failed to query contacts: %v", err)
	}
	count := 0
	for rows.Next() {
		var contactID, displayName, phoneNumber, normalizedPhone, secretCode, updatedAt string
		if err := rows.Scan(&contactID, &displayName, &phoneNumber, &normalizedPhone, &secretCode, &updatedAt); err != nil {
			log.Fatalf("Failed to scan contact: %v", err)
		}
		count++
		fmt.Printf("%d. %s  %s (normalized: %s)  secret=%s  updated=%s\n",
			count, displayName, phoneNumber, normalizedPhone, secretCode, updatedAt)
	}
	rows.Close()
	if count == 0 {
		fmt.Println("（没有登记的联系人）")
	}

	fmt.Println("\n=== trusted_senders ===")
	rows, err = db.Query(`SELECT phone_number, keyword FROM trusted_senders ORDER BY created_at;`)
	if err != nil {
		log.Fatalf("Failed to query trusted senders: %v", err)
	}
	count = 0
	for rows.Next() {
		var phoneNumber, keyword string
		if err := rows.Scan(&phoneNumber, &keyword); err != nil {
			log.Fatalf("Failed to scan trusted sender: %v", err)
		}
		count++
		fmt.Printf("%d. %s  keyword=%q\n", count, phoneNumber, keyword)
	}
	rows.Close()
	if count == 0 {
		fmt.Println("（没有可信发送者）")
	}

	fmt.Println("\n=== settings (lastLocation_*) ===")
	rows, err = db.Query(`SELECT key, value, updated_at FROM settings WHERE key LIKE 'lastLocation_%' ORDER BY updated_at DESC;`)
	if err != nil {
		log.Fatalf("Failed to query settings: %v", err)
	}
	count = 0
	for rows.Next() {
		var key, value, updatedAt string
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			log.Fatalf("Failed to scan setting: %v", err)
		}
		count++
		fmt.Printf("%d. %s  updated=%s\n   %s\n", count, key, updatedAt, value)
	}
	rows.Close()
	if count == 0 {
		fmt.Println("（没有位置记录）")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
