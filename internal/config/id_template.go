package config

import "github.com/hookdeck/mqbridge/internal/idgen"

// IDTemplateConfig is the configuration for ID generation templates
type IDTemplateConfig struct {
	Socket  string `yaml:"socket" env:"ID_TEMPLATE_SOCKET" desc:"Go template for generating socket IDs. Available functions: uuidv4, uuidv7, nanoid and sprig. Default: '{{uuidv4}}'" required:"N"`
	Message string `yaml:"message" env:"ID_TEMPLATE_MESSAGE" desc:"Go template for generating message IDs. Default: '{{uuidv4}}'" required:"N"`
}

func (c IDTemplateConfig) ToConfig() idgen.IDTemplateConfig {
	return idgen.IDTemplateConfig{
		Socket:  c.Socket,
		Message: c.Message,
	}
}
