package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/goperp/internal/account"
	"github.com/betbot/goperp/internal/agentkey"
	"github.com/betbot/goperp/internal/api"
	"github.com/betbot/goperp/internal/engine"
	"github.com/betbot/goperp/perp/client"
	"github.com/betbot/goperp/perp/markets"
	"github.com/betbot/goperp/perp/signing"
	"github.com/betbot/goperp/perp/stream"
	"github.com/betbot/goperp/perp/types"
	"github.com/betbot/goperp/pkg/config"
	"github.com/betbot/goperp/pkg/history"
	"github.com/betbot/goperp/pkg/logger"
	"github.com/betbot/goperp/pkg/shutdown"
	"github.com/betbot/goperp/pkg/vault"
	"github.com/betbot/goperp/pkg/wallet"
)

const gracefulShutdownPeriod = 15 * time.Second

// terminalApproval 在终端上模拟钱包的签名确认弹窗
func terminalApproval(_ context.Context, summary string) (bool, error) {
	fmt.Printf("⚠️  需要签名确认: %s [y/N] ", summary)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	autoApprove := flag.Bool("yes", false, "跳过终端签名确认（自动同意）")
	flag.Parse()

	// .env 可选，只用于注入私钥等敏感变量
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *autoApprove); err != nil {
		logger.Errorf("❌ 启动失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, autoApprove bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := shutdown.NewManager()

	// 主钱包：私钥或助记词派生，包一层交互式确认
	ownerKey, err := wallet.FromConfig(cfg.Wallet.PrivateKey, cfg.Wallet.Mnemonic, "")
	if err != nil {
		return err
	}
	address := strings.ToLower(ownerKey.Address().Hex())
	if cfg.Wallet.Address != "" && !strings.EqualFold(cfg.Wallet.Address, address) {
		return fmt.Errorf("派生地址 %s 与配置地址 %s 不一致", address, cfg.Wallet.Address)
	}
	var approve signing.ApprovalFunc
	if !autoApprove {
		approve = terminalApproval
	}
	owner := signing.NewInteractiveSigner(ownerKey, approve)
	logger.Infof("🔑 主钱包: %s (testnet=%v)", address, cfg.Network.Testnet)

	c := client.New(cfg.Network.Testnet)

	// 市场目录必须在下单前就绪
	mk := markets.NewStore(c, cfg.Network.SecondaryDex)
	if err := mk.Load(ctx); err != nil {
		return fmt.Errorf("加载市场目录失败: %w", err)
	}
	logger.Infof("✅ 市场目录已加载: %d 个市场", len(mk.Markets()))

	st := account.NewStore()
	st.SetAddress(address)

	// 凭据保险库
	key, err := vault.ParseKey(cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("VAULT_KEY 无效: %w", err)
	}
	vs, err := vault.Open(vault.OpenOptions{Path: cfg.Vault.Path, EncryptionKey: key})
	if err != nil {
		return fmt.Errorf("打开凭据库失败: %w", err)
	}
	sm.OnShutdown(func(context.Context) { _ = vs.Close() })

	agents := agentkey.NewManager(c, vs, owner, cfg.Agent.Label)
	agents.SetEnabled(cfg.Agent.Enabled)
	if cfg.Agent.Enabled {
		if err := agents.Setup(ctx); err != nil {
			return fmt.Errorf("委托签名初始化失败: %w", err)
		}
		logger.Infof("✅ 委托签名就绪: %s", agents.State())
	}

	var journal *history.Journal
	if cfg.Journal != "" {
		journal, err = history.Open(cfg.Journal)
		if err != nil {
			return fmt.Errorf("打开成交日志失败: %w", err)
		}
		sm.OnShutdown(func(context.Context) { _ = journal.Close() })
	}

	var builder *engine.BuilderConfig
	if cfg.Builder.Enabled {
		builder = &engine.BuilderConfig{Address: cfg.Builder.Address, Fee: cfg.Builder.Fee}
	}
	eng := engine.New(engine.Options{
		Client:  c,
		Markets: mk,
		Store:   st,
		Agents:  agents,
		Owner:   owner,
		Builder: builder,
		Journal: journal,
	})
	if builder != nil {
		approved, err := eng.CheckBuilderFee(ctx)
		if err != nil {
			logger.Warnf("⚠️ 构建者费率核查失败: %v", err)
		} else if !approved {
			// 未获批时走一次用户签名授权；拒绝则继续跑，订单不附带分成
			if err := eng.ApproveBuilderFee(ctx); err != nil {
				logger.Warnf("⚠️ 构建者费率授权未完成，订单不附带分成: %v", err)
			}
		}
	}

	// 先同步拉一次账户快照，流式推送到来之前就有完整状态
	if st.TryBeginSnapshot() {
		state, err := c.ClearinghouseState(ctx, address)
		switch {
		case err != nil:
			st.EndSnapshot(false)
			logger.Warnf("⚠️ 账户快照拉取失败: %v", err)
		case state.MarginSummary.AccountValue.Float64() == 0 && len(state.AssetPositions) == 0:
			// 交易所不认识这个地址：按未激活账户的零状态处理
			st.ApplyZeroState()
			st.EndSnapshot(true)
		default:
			st.ApplySnapshot(state)
			st.EndSnapshot(true)
		}
	}

	streamCfg := stream.DefaultConfig(cfg.Network.Testnet)
	streamCfg.HeartbeatInterval = time.Duration(cfg.Stream.HeartbeatSeconds) * time.Second
	streamCfg.MaxReconnect = cfg.Stream.MaxReconnect
	ws := stream.NewClient(streamCfg, stream.Callbacks{
		OnMids: func(mids map[string]float64) {
			mk.UpdateMids(mids)
			st.UpdateMarks(mids)
		},
		OnAccount: func(state *types.ClearinghouseState) {
			st.ApplySnapshot(state)
		},
		OnOrderUpdate: st.ApplyOrderUpdates,
		OnFills: func(fills []types.WireFill) {
			if journal == nil {
				return
			}
			for _, f := range fills {
				side := types.SideBuy
				if f.Side == "A" {
					side = types.SideSell
				}
				_ = journal.Append(context.Background(), history.Fill{
					Address:  address,
					Symbol:   types.CoinToSymbol(f.Coin),
					Side:     string(side),
					Size:     f.Sz.Float64(),
					Price:    f.Px.Float64(),
					Realized: f.ClosedPnl.Float64(),
					OID:      f.Oid,
					Source:   "stream",
				})
			}
		},
		OnStateChange: func(s stream.State) {
			logger.Infof("🔄 行情流状态: %s", s)
		},
		OnError: func(err error) {
			logger.Warnf("⚠️ 行情流错误: %v", err)
		},
	})
	if err := ws.Connect(); err != nil {
		return fmt.Errorf("连接行情流失败: %w", err)
	}
	sm.OnShutdown(func(context.Context) { _ = ws.Close() })

	for _, sub := range []stream.Subscription{
		stream.AllMidsSubscription(),
		stream.ClearinghouseStateSubscription(address),
		stream.OrderUpdatesSubscription(address),
		stream.UserEventsSubscription(address),
	} {
		if err := ws.Subscribe(sub); err != nil {
			logger.Warnf("⚠️ 订阅失败 %s: %v", sub.Key(), err)
		}
	}

	if cfg.API.Enabled {
		srv := api.New(api.Options{
			Store:   st,
			Markets: mk,
			Stream:  ws,
			Agents:  agents,
			Journal: journal,
			Gate:    eng.Gate(),
		})
		go func() {
			if err := srv.Serve(cfg.API.Listen); err != nil {
				logger.Errorf("❌ 状态接口异常退出: %v", err)
			}
		}()
		sm.OnShutdown(func(ctx context.Context) { _ = srv.Shutdown(ctx) })
	}

	logger.Info("✅ 交易端已启动")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("收到信号 %v，开始关闭", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	logger.Info("👋 已退出")
	return nil
}
