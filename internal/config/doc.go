// Package config 负责加载 AutoAgent 的 YAML 配置：读取 .env、补全默认值、
// 把相对路径解析到配置文件所在目录，并在启动前完成校验。
package config
