package craftcord

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const progressSteps = 5

// commandContext carries a parsed chat command through its handler
type commandContext struct {
	ctx     context.Context
	c       *CraftCord
	message *discordgo.Message
	guild   GuildSettings
	name    string
	args    []string
	logger  *slog.Logger
}

func (cc *commandContext) author() *discordgo.User {
	return cc.message.Author
}

// arg returns the i'th argument, or ""
func (cc *commandContext) arg(i int) string {
	if i < len(cc.args) {
		return cc.args[i]
	}
	return ""
}

// rest joins the arguments from i onward, for multi-word names
func (cc *commandContext) rest(i int) string {
	if i >= len(cc.args) {
		return ""
	}
	return strings.Join(cc.args[i:], " ")
}

// replyReference points a reply at m. If m was deleted the reply is
// sent as a plain message instead of failing.
func replyReference(m *discordgo.Message) *discordgo.MessageReference {
	return m.SoftReference()
}

func (cc *commandContext) reply(content string) error {
	_, err := cc.c.discord.session.ChannelMessageSendComplex(
		cc.message.ChannelID,
		&discordgo.MessageSend{
			Content:         truncate(content, discordMaxMessageLength),
			Reference:       replyReference(cc.message),
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
		},
		discordgo.WithContext(cc.ctx),
	)
	return err
}

func (cc *commandContext) replyEmbed(embed *discordgo.MessageEmbed) error {
	_, err := cc.c.discord.session.ChannelMessageSendComplex(
		cc.message.ChannelID,
		&discordgo.MessageSend{
			Embeds:    []*discordgo.MessageEmbed{embed},
			Reference: replyReference(cc.message),
		},
		discordgo.WithContext(cc.ctx),
	)
	return err
}

// replyWithProgress shows a progress bar for verb before revealing
// result. The action has already happened; the bar is cosmetic.
func (cc *commandContext) replyWithProgress(verb string, result string) error {
	interval := cc.c.config.Game.ProgressFrameInterval
	if interval <= 0 {
		return cc.reply(result)
	}
	session := cc.c.discord.session
	msg, err := session.ChannelMessageSendComplex(
		cc.message.ChannelID,
		&discordgo.MessageSend{
			Content:   progressBar(verb, 0),
			Reference: replyReference(cc.message),
		},
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return err
	}
	edit := func(content string) error {
		_, e := session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{ID: msg.ID, Channel: msg.ChannelID, Content: &content},
			discordgo.WithContext(cc.ctx),
		)
		return e
	}
	for step := 1; step <= progressSteps; step++ {
		select {
		case <-cc.ctx.Done():
			return edit(result)
		case <-time.After(interval):
		}
		if err = edit(progressBar(verb, step)); err != nil {
			return err
		}
	}
	return edit(result)
}

func progressBar(verb string, step int) string {
	return fmt.Sprintf(
		"%s... [%s%s]",
		verb,
		strings.Repeat("█", step),
		strings.Repeat("░", progressSteps-step),
	)
}

type commandHandler func(cc *commandContext) error

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string

	// Gameplay commands are restricted to the guild's game channels
	Gameplay bool
	Admin    bool
	Run      commandHandler
}

// commandSet resolves command names and aliases
type commandSet struct {
	byName map[string]*command
	list   []*command
}

func (s *commandSet) lookup(name string) (*command, bool) {
	cmd, ok := s.byName[strings.ToLower(name)]
	return cmd, ok
}

func (s *commandSet) names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *CraftCord) newCommandSet() *commandSet {
	cmds := []*command{
		{Name: "help", Aliases: []string{"commands"}, Usage: "help", Help: "List commands", Run: c.cmdHelp},

		{Name: "chop", Aliases: []string{"gather", "wood"}, Usage: "chop", Help: "Chop wood", Gameplay: true, Run: c.cmdChop},
		{Name: "mine", Usage: "mine", Help: "Mine with your best pickaxe", Gameplay: true, Run: c.cmdMine},
		{Name: "farm", Usage: "farm", Help: "Harvest wheat", Gameplay: true, Run: c.cmdFarm},
		{Name: "fish", Usage: "fish", Help: "Fish for your aquarium", Gameplay: true, Run: c.cmdFish},

		{Name: "craft", Usage: "craft <tool> <tier> | craft totem", Help: "Craft a tool", Gameplay: true, Run: c.cmdCraft},
		{Name: "recipe", Aliases: []string{"recipes"}, Usage: "recipe [tool]", Help: "Show crafting costs", Run: c.cmdRecipe},

		{Name: "pen", Aliases: []string{"barn"}, Usage: "pen [@player]", Help: "Show a pen", Run: c.cmdPen},
		{Name: "breed", Usage: "breed <creature>", Help: "Breed two of a creature", Gameplay: true, Run: c.cmdBreed},
		{Name: "sacrifice", Aliases: []string{"sac"}, Usage: "sacrifice <creature>", Help: "Sacrifice a creature for emeralds", Gameplay: true, Run: c.cmdSacrifice},
		{Name: "give", Usage: "give <@player> <creature>", Help: "Give a creature to another player", Gameplay: true, Run: c.cmdGive},
		{Name: "upgradepen", Aliases: []string{"upbarn", "upgradebarn"}, Usage: "upgradepen", Help: "Make your pen bigger", Gameplay: true, Run: c.cmdUpgradePen},

		{Name: "shop", Usage: "shop", Help: "List shop items", Run: c.cmdShop},
		{Name: "buy", Usage: "buy <item> [qty]", Help: "Buy from the shop", Gameplay: true, Run: c.cmdBuy},
		{Name: "use", Usage: "use <item> [qty]", Help: "Use an item", Gameplay: true, Run: c.cmdUse},

		{Name: "inventory", Aliases: []string{"inv"}, Usage: "inventory [@player]", Help: "Show items and tools", Run: c.cmdInventory},
		{Name: "xp", Aliases: []string{"level", "exp"}, Usage: "xp [@player]", Help: "Show level progress", Run: c.cmdExperience},
		{Name: "cooldowns", Aliases: []string{"cd"}, Usage: "cooldowns", Help: "Show when you can act again", Run: c.cmdCooldowns},
		{Name: "leaderboard", Aliases: []string{"lb"}, Usage: "leaderboard", Help: "Top players by experience", Run: c.cmdLeaderboard},
		{Name: "bestiary", Usage: "bestiary [@player]", Help: "Sacrificed creatures", Run: c.cmdBestiary},
		{Name: "aquarium", Usage: "aquarium [@player]", Help: "Fish caught in the last day", Run: c.cmdAquarium},

		{Name: "linkyt", Usage: "linkyt <channel name>", Help: "Link your YouTube channel", Run: c.cmdLinkYouTube},
		{Name: "yt", Aliases: []string{"youtube"}, Usage: "yt [@player]", Help: "Show a linked YouTube channel", Run: c.cmdYouTube},

		{Name: "stronghold", Aliases: []string{"sh"}, Usage: "stronghold", Help: "Explore a stronghold", Gameplay: true, Run: c.cmdStronghold},

		{Name: "config", Usage: "config", Help: "Show guild settings", Admin: true, Run: c.cmdConfig},
		{Name: "prefix", Usage: "prefix <prefix>", Help: "Set the command prefix", Admin: true, Run: c.cmdPrefix},
		{Name: "setchannel", Usage: "setchannel <" + strings.Join(channelKinds, "|") + "> [#channel]", Help: "Configure a channel", Admin: true, Run: c.cmdSetChannel},
		{Name: "welcome", Usage: "welcome on|off", Help: "Toggle welcome messages", Admin: true, Run: c.cmdWelcome},
		{Name: "spawn", Usage: "spawn", Help: "Force a spawn", Admin: true, Run: c.cmdSpawn},
		{Name: "givemob", Usage: "givemob <@player> <creature> [count]", Help: "Grant creatures", Admin: true, Run: c.cmdGiveMob},
	}
	set := &commandSet{byName: map[string]*command{}, list: cmds}
	for _, cmd := range cmds {
		set.byName[cmd.Name] = cmd
		for _, alias := range cmd.Aliases {
			set.byName[alias] = cmd
		}
	}
	return set
}

// parseCommand extracts the command name and arguments from content, if
// it starts with prefix or mentions the bot. ok is false for plain chat.
func parseCommand(content, prefix, botUserID string) (name string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	body, mentioned := "", false
	if botUserID != "" {
		body, mentioned = stripMention(content, botUserID)
	}
	switch {
	case mentioned:
		body = strings.TrimPrefix(body, prefix)
	case prefix != "" && strings.HasPrefix(content, prefix):
		body = strings.TrimPrefix(content, prefix)
	default:
		return "", nil, false
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// handleMessage routes a chat message: commands first, then spawn
// guesses, then passive experience and reactions
func (c *CraftCord) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.discord.BotUserID() {
		return
	}
	if m.GuildID == "" {
		return
	}
	if c.RuntimeConfig().Paused {
		return
	}
	ctx = WithLogger(
		ctx,
		c.logger.With("guild_id", m.GuildID, "channel_id", m.ChannelID, "user_id", m.Author.ID),
	)
	settings, err := c.guildSettings(ctx, m.GuildID)
	if err != nil {
		c.logger.ErrorContext(ctx, "error loading guild settings", tint.Err(err))
		return
	}

	if name, args, ok := parseCommand(m.Content, settings.Prefix, c.discord.BotUserID()); ok {
		c.dispatch(ctx, m.Message, settings, name, args)
		return
	}

	caught, err := c.handleSpawnGuess(ctx, m.Message)
	if err != nil {
		c.logger.ErrorContext(ctx, "error checking spawn guess", tint.Err(err))
	}
	if caught {
		return
	}
	c.handleChatExperience(ctx, m.Message)
	if settings.ReactChannels.Contains(m.ChannelID) {
		c.handleReactions(ctx, m.Message)
	}
}

// dispatch runs a command. Every failure ends in a reply, through
// replyError.
func (c *CraftCord) dispatch(
	ctx context.Context,
	m *discordgo.Message,
	settings GuildSettings,
	name string,
	args []string,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}
	cmd, found := c.commands.lookup(name)
	if !found {
		if suggestion, close := closestMatch(name, c.commands.names()); close {
			_, _ = c.discord.session.ChannelMessageSendComplex(
				m.ChannelID,
				&discordgo.MessageSend{
					Content:   fmt.Sprintf("❓ Unknown command `%s`. Did you mean `%s%s`?", name, settings.Prefix, suggestion),
					Reference: replyReference(m),
				},
				discordgo.WithContext(ctx),
			)
		}
		return
	}
	logger = logger.With("command", cmd.Name)
	cc := &commandContext{
		ctx:     WithLogger(ctx, logger),
		c:       c,
		message: m,
		guild:   settings,
		name:    cmd.Name,
		args:    args,
		logger:  logger,
	}

	start := time.Now()
	err := c.runCommand(cc, cmd)
	c.metrics.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Commands.WithLabelValues(cmd.Name, errorKind(err).String()).Inc()
		c.replyError(cc, err)
		return
	}
	c.metrics.Commands.WithLabelValues(cmd.Name, "ok").Inc()
	logger.DebugContext(cc.ctx, "command finished", "duration", time.Since(start))
}

// runCommand applies the permission, channel and cooldown gates, then
// runs the handler. A command rejected before it changed anything
// refunds its cooldown. Other failures may come after the action
// committed, such as a reply that couldn't be sent, so they keep it.
func (c *CraftCord) runCommand(cc *commandContext, cmd *command) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			c.handleRecover(cc.ctx, rc)
			err = fmt.Errorf("panic in %s: %v", cmd.Name, rc)
		}
	}()
	if cmd.Admin {
		admin, permErr := c.memberIsAdmin(cc.ctx, cc.message)
		if permErr != nil {
			return permErr
		}
		if !admin {
			return permissionError("🚫 You need the Administrator or Manage Server permission to use `%s`.", cmd.Name)
		}
	}
	if cmd.Gameplay && !cc.guild.AllowsGameplay(cc.message.ChannelID) {
		return userError("🚫 Gameplay commands can only be used in <#%s>.", cc.guild.GameChannels.First())
	}
	userID := cc.author().ID
	if c.cooldowns.Gated(cmd.Name) {
		if left, ok := c.cooldowns.Use(userID, cmd.Name); !ok {
			return cooldownError(cmd.Name, left)
		}
	}
	if err = cmd.Run(cc); err != nil && c.cooldowns.Gated(cmd.Name) && refundsCooldown(err) {
		c.cooldowns.Reset(userID, cmd.Name)
	}
	return err
}

// refundsCooldown reports whether err is a rejection. Handlers only
// reject before their transaction commits.
func refundsCooldown(err error) bool {
	switch errorKind(err) {
	case KindUserInput, KindPermission:
		return true
	default:
		return false
	}
}

// replyError turns a command failure into a chat reply. Internal
// errors are logged and answered with the generic error message.
func (c *CraftCord) replyError(cc *commandContext, err error) {
	kind := errorKind(err)
	fallback := c.RuntimeConfig().DiscordErrorMessage
	if fallback == "" {
		fallback = DefaultDiscordErrorMessage
	}
	if kind == KindInternal {
		cc.logger.ErrorContext(cc.ctx, "command failed", tint.Err(err))
	} else {
		cc.logger.DebugContext(cc.ctx, "command rejected", "kind", kind.String(), "reason", err.Error())
	}
	if replyErr := cc.reply(userFacingMessage(err, fallback)); replyErr != nil {
		cc.logger.ErrorContext(cc.ctx, "error sending error reply", tint.Err(replyErr))
	}
}

// memberIsAdmin reports whether the message author holds Administrator
// or Manage Server through any of their roles
func (c *CraftCord) memberIsAdmin(ctx context.Context, m *discordgo.Message) (bool, error) {
	if m.Member == nil {
		return false, nil
	}
	roles, err := c.discord.session.GuildRoles(m.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("error listing roles: %w", err)
	}
	var perms int64
	for _, r := range roles {
		// the @everyone role shares the guild's ID
		if r.ID == m.GuildID {
			perms |= r.Permissions
			continue
		}
		for _, id := range m.Member.Roles {
			if r.ID == id {
				perms |= r.Permissions
			}
		}
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0, nil
}

// handleReactions answers greetings and eyes creature names, in react
// channels
func (c *CraftCord) handleReactions(ctx context.Context, m *discordgo.Message) {
	content := strings.ToLower(strings.TrimSpace(m.Content))
	if content == "hi" || strings.HasPrefix(content, "hi ") {
		_, _ = c.discord.session.ChannelMessageSend(
			m.ChannelID,
			fmt.Sprintf("Hi, <@%s>!", m.Author.ID),
			discordgo.WithContext(ctx),
		)
	}
	normalized := normalizeName(content)
	for _, cr := range creatures {
		if strings.Contains(normalized, normalizeName(cr.Name)) {
			if err := c.discord.session.MessageReactionAdd(
				m.ChannelID,
				m.ID,
				"👀",
				discordgo.WithContext(ctx),
			); err != nil {
				c.logger.WarnContext(ctx, "error adding reaction", tint.Err(err))
			}
			return
		}
	}
}

// handleMemberJoin greets new members when the guild has welcome on
func (c *CraftCord) handleMemberJoin(ctx context.Context, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	settings, err := c.guildSettings(ctx, m.GuildID)
	if err != nil {
		c.logger.ErrorContext(ctx, "error loading guild settings", tint.Err(err))
		return
	}
	channelID := settings.AnnounceChannels.First()
	if !settings.Welcome || channelID == "" {
		return
	}
	_, _ = c.discord.session.ChannelMessageSend(
		channelID,
		fmt.Sprintf(
			"👋 Welcome <@%s>! Type `%shelp` to start crafting.",
			m.User.ID,
			settings.Prefix,
		),
		discordgo.WithContext(ctx),
	)
}

func (c *CraftCord) cmdHelp(cc *commandContext) error {
	var b strings.Builder
	for _, cmd := range c.commands.list {
		if cmd.Admin {
			continue
		}
		fmt.Fprintf(&b, "`%s%s` %s\n", cc.guild.Prefix, cmd.Usage, cmd.Help)
	}
	b.WriteString("\n**Admin**\n")
	for _, cmd := range c.commands.list {
		if cmd.Admin {
			fmt.Fprintf(&b, "`%s%s` %s\n", cc.guild.Prefix, cmd.Usage, cmd.Help)
		}
	}
	return cc.replyEmbed(
		&discordgo.MessageEmbed{
			Title:       "📖 Commands",
			Description: b.String(),
			Color:       goldenColor,
		},
	)
}
