// internal/pkg/nacos/client.go
package nacos

import (
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"eshop-ordering/internal/pkg/logger"
)

const defaultGroup = "DEFAULT_GROUP"

// Client 封装了 Nacos 命名客户端
type Client struct {
	namingClient naming_client.INamingClient

	namespaceId string
	groupName   string
}

// ParseServerAddrs 解析 "ip1:port1,ip2:port2"
func ParseServerAddrs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		parts := strings.Split(addr, ":")
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	if len(serverConfigs) == 0 {
		return nil, errors.New("no nacos server address configured")
	}
	return serverConfigs, nil
}

// NewNacosClient 创建并返回一个新的 Nacos 命名客户端
func NewNacosClient(addrs string, namespaceId, groupName string) (*Client, error) {
	if namespaceId == "" {
		logger.L().Warn().Msg("⚠️ Nacos namespace is not set, using the public namespace")
	}
	if groupName == "" {
		groupName = defaultGroup
	}

	serverConfigs, err := ParseServerAddrs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceId),
	)

	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}

	logger.L().Info().Str("addrs", addrs).Str("group", groupName).Msg("✅ Connected to Nacos")
	return &Client{
		namingClient: namingClient,
		namespaceId:  namespaceId,
		groupName:    groupName,
	}, nil
}

// RegisterServiceInstance 注册一个临时实例，心跳断开后自动摘除
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	success, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrap(err, "register service with nacos")
	}
	if !success {
		return errors.Errorf("nacos registration was not successful for service: %s", serviceName)
	}
	logger.L().Info().Msgf("✅ Service '%s' registered to Nacos (%s:%d)", serviceName, ip, port)
	return nil
}

func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return errors.Wrap(err, "deregister service from nacos")
	}
	logger.L().Info().Msgf("ℹ️ Service '%s' deregistered from Nacos (%s:%d)", serviceName, ip, port)
	return nil
}

func (c *Client) Close() {
	if c.namingClient != nil {
		c.namingClient.CloseClient()
	}
}
