package craftcord

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"strconv"
	"strings"
)

const (
	strongholdButtonPrefix = "sh"
	strongholdLeave        = "leave"
)

// Stronghold run states. Only active runs accept choices.
const (
	runStateActive    = "active"
	runStateDead      = "dead"
	runStateLeft      = "left"
	runStateConquered = "conquered"
)

// LootBag is loot collected during a run, stored as a JSON object
type LootBag map[string]int64

func (l *LootBag) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = LootBag{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("invalid loot value: %#v", value)
	}
	*l = LootBag{}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, l)
}

func (l LootBag) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int64(l))
	return string(b), err
}

func (LootBag) GormDataType() string {
	return "text"
}

func (l LootBag) add(other LootBag) {
	for item, n := range other {
		l[item] += n
	}
}

func (l LootBag) String() string {
	if len(l) == 0 {
		return "nothing"
	}
	lines := make([]string, 0, len(l))
	for _, item := range sortedKeys(l) {
		lines = append(lines, fmt.Sprintf("%d× %s", l[item], item))
	}
	return strings.Join(lines, "\n")
}

// StrongholdRun is one player's trip through a stronghold. Each choice
// advances it with a conditional update on (room, state, totems_used),
// so a stale or repeated button click changes nothing.
type StrongholdRun struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	PlayerID   string  `gorm:"index;not null" json:"player_id"`
	GuildID    string  `json:"guild_id"`
	ChannelID  string  `json:"channel_id"`
	MessageID  string  `json:"message_id"`
	Room       int     `gorm:"not null;default:0" json:"room"`
	DeathPath  int     `gorm:"not null" json:"-"`
	TotemsUsed int     `gorm:"not null;default:0" json:"totems_used"`
	Loot       LootBag `json:"loot"`
	State      string  `gorm:"index;not null" json:"state"`
	ModelTimestamps
}

func (StrongholdRun) TableName() string {
	return "stronghold_runs"
}

func (r StrongholdRun) Active() bool {
	return r.State == runStateActive
}

// rollLoot draws a room's loot from the tier for room
func rollLoot(rng *lockedRand, room int) LootBag {
	loot := LootBag{}
	for _, l := range lootTierFor(room).Loot {
		loot[l.Item] = rng.Between(l.Min, l.Max)
	}
	return loot
}

func rollDeathPath(rng *lockedRand) int {
	return rng.Intn(strongholdPathCount) + 1
}

// grantLoot moves a run's loot into the player's inventory
func grantLoot(tx *gorm.DB, playerID string, loot LootBag) error {
	for _, item := range sortedKeys(loot) {
		if loot[item] <= 0 {
			continue
		}
		if err := GiveQuantity(tx, playerID, item, loot[item]); err != nil {
			return err
		}
	}
	return nil
}

// startStronghold charges the entry cost and opens a run. Any run the
// player left open is closed first, as if they had left it.
func startStronghold(
	tx *gorm.DB,
	rng *lockedRand,
	playerID, guildID, channelID string,
) (*StrongholdRun, []StrongholdRun, error) {
	var stale []StrongholdRun
	if err := tx.Where("player_id = ? AND state = ?", playerID, runStateActive).Find(&stale).Error; err != nil {
		return nil, nil, err
	}
	for i := range stale {
		if err := finishRun(tx, &stale[i], runStateLeft); err != nil {
			return nil, nil, err
		}
	}

	cost := map[string]int64{ItemCobblestone: strongholdEntryCost}
	if err := payCost(tx, playerID, cost, "the stronghold"); err != nil {
		return nil, nil, err
	}
	run := &StrongholdRun{
		ID:        newID(),
		PlayerID:  playerID,
		GuildID:   guildID,
		ChannelID: channelID,
		DeathPath: rollDeathPath(rng),
		Loot:      LootBag{},
		State:     runStateActive,
	}
	if err := tx.Create(run).Error; err != nil {
		return nil, nil, err
	}
	return run, stale, nil
}

// finishRun ends an active run with state and grants its loot
func finishRun(tx *gorm.DB, run *StrongholdRun, state string) error {
	rv := tx.Model(&StrongholdRun{}).
		Where("id = ? AND room = ? AND state = ?", run.ID, run.Room, runStateActive).
		Update("state", state)
	if rv.Error != nil {
		return rv.Error
	}
	if rv.RowsAffected == 0 {
		return ErrRunNotActive
	}
	run.State = state
	return grantLoot(tx, run.PlayerID, run.Loot)
}

// StrongholdOutcome is the result of one choice
type StrongholdOutcome struct {
	Run      StrongholdRun
	Found    LootBag
	Died     bool
	Saved    bool
	Conquer  bool
	Left     bool
	DeathMsg string
}

// chooseStrongholdPath applies a player's choice (1 to
// strongholdPathCount, or leave) to an active run
func chooseStrongholdPath(
	tx *gorm.DB,
	rng *lockedRand,
	runID string,
	playerID string,
	choice string,
) (*StrongholdOutcome, error) {
	var run StrongholdRun
	if err := lockForUpdate(tx).Where("id = ?", runID).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotActive
		}
		return nil, err
	}
	if run.PlayerID != playerID {
		return nil, permissionError("🚪 This isn't your stronghold.")
	}
	if !run.Active() {
		return nil, ErrRunNotActive
	}
	if run.Loot == nil {
		run.Loot = LootBag{}
	}
	outcome := &StrongholdOutcome{}

	if choice == strongholdLeave {
		if err := finishRun(tx, &run, runStateLeft); err != nil {
			return nil, err
		}
		outcome.Left = true
		outcome.Run = run
		return outcome, nil
	}
	path, err := strconv.Atoi(choice)
	if err != nil || path < 1 || path > strongholdPathCount {
		return nil, userError("❌ That isn't a path.")
	}

	updates := map[string]any{}
	if path == run.DeathPath {
		saved, err := useTotem(tx, &run)
		if err != nil {
			return nil, err
		}
		if !saved {
			outcome.Died = true
			outcome.DeathMsg = deathMessages[rng.Intn(len(deathMessages))]
			if err = finishRun(tx, &run, runStateDead); err != nil {
				return nil, err
			}
			outcome.Run = run
			return outcome, nil
		}
		outcome.Saved = true
		updates["totems_used"] = run.TotemsUsed
	} else {
		outcome.Found = rollLoot(rng, run.Room+1)
		run.Loot.add(outcome.Found)
		run.Room++
		updates["room"] = run.Room
		updates["loot"] = run.Loot
	}
	run.DeathPath = rollDeathPath(rng)
	updates["death_path"] = run.DeathPath

	prevRoom, prevTotems := run.Room, run.TotemsUsed
	if !outcome.Saved {
		prevRoom--
	} else {
		prevTotems--
	}
	rv := tx.Model(&StrongholdRun{}).
		Where(
			"id = ? AND room = ? AND totems_used = ? AND state = ?",
			run.ID, prevRoom, prevTotems, runStateActive,
		).
		Updates(updates)
	if rv.Error != nil {
		return nil, rv.Error
	}
	if rv.RowsAffected == 0 {
		return nil, ErrRunNotActive
	}

	if run.Room >= strongholdFinalRoom {
		if err = finishRun(tx, &run, runStateConquered); err != nil {
			return nil, err
		}
		outcome.Conquer = true
	}
	outcome.Run = run
	return outcome, nil
}

// useTotem spends one of the player's totems to survive a death, if
// they have one and haven't used one this run
func useTotem(tx *gorm.DB, run *StrongholdRun) (bool, error) {
	if run.TotemsUsed >= strongholdTotemSaves {
		return false, nil
	}
	have, err := GetQuantity(tx, run.PlayerID, ItemTotem)
	if err != nil || have == 0 {
		return false, err
	}
	if err = TakeQuantity(tx, run.PlayerID, ItemTotem, 1); err != nil {
		return false, err
	}
	run.TotemsUsed++
	return true, nil
}

func strongholdButtonID(runID, choice string) string {
	return strings.Join([]string{strongholdButtonPrefix, runID, choice}, ":")
}

// parseStrongholdButton splits a button custom ID into run ID and choice
func parseStrongholdButton(customID string) (runID, choice string, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != strongholdButtonPrefix || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func strongholdComponents(run StrongholdRun, disabled bool) []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, strongholdPathCount+1)
	for i := 1; i <= strongholdPathCount; i++ {
		buttons = append(
			buttons,
			discordgo.Button{
				Label:    fmt.Sprintf("Path %d", i),
				Style:    discordgo.PrimaryButton,
				CustomID: strongholdButtonID(run.ID, strconv.Itoa(i)),
				Disabled: disabled,
			},
		)
	}
	buttons = append(
		buttons,
		discordgo.Button{
			Label:    "Leave",
			Style:    discordgo.DangerButton,
			CustomID: strongholdButtonID(run.ID, strongholdLeave),
			Disabled: disabled,
		},
	)
	rows := chunkItems(discordMaxButtonsPerActionRow, buttons...)
	components := make([]discordgo.MessageComponent, len(rows))
	for i, row := range rows {
		components[i] = discordgo.ActionsRow{Components: row}
	}
	return components
}

func strongholdEmbed(outcome *StrongholdOutcome) *discordgo.MessageEmbed {
	run := outcome.Run
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🏰 Stronghold: room %d", run.Room),
		Color: rarities[1].Color,
	}
	switch {
	case outcome.Died:
		embed.Description = outcome.DeathMsg
		embed.Color = rarities[5].Color
	case outcome.Conquer:
		embed.Description = fmt.Sprintf("🎉 You conquered all %d rooms of the stronghold!", strongholdFinalRoom)
		embed.Color = goldenColor
	case outcome.Left:
		embed.Description = "🚪 You left the stronghold safely."
	case outcome.Saved:
		embed.Description = "🗿 Your totem saved you! Choose another door..."
	case run.Room == 0:
		embed.Description = "Choose a door to begin your descent..."
	default:
		embed.Description = "Choose a door..."
	}
	if len(outcome.Found) > 0 {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "Found in this room", Value: outcome.Found.String()},
		)
	}
	label := "📦 Loot so far"
	if !run.Active() {
		label = "📦 Loot collected"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: label, Value: run.Loot.String()})
	return embed
}

func (c *CraftCord) cmdStronghold(cc *commandContext) error {
	author := cc.author()
	var run *StrongholdRun
	var stale []StrongholdRun
	err := c.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			if err := touchPlayer(tx, author.ID, author.Username, cc.message.GuildID, cc.message.ChannelID); err != nil {
				return err
			}
			var err error
			run, stale, err = startStronghold(tx, c.rng, author.ID, cc.message.GuildID, cc.message.ChannelID)
			return err
		},
	)
	if err != nil {
		return err
	}
	for _, s := range stale {
		c.metrics.StrongholdRuns.WithLabelValues(runStateLeft).Inc()
		c.closeStrongholdMessage(cc.ctx, s)
	}

	msg, err := c.discord.session.ChannelMessageSendComplex(
		cc.message.ChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{strongholdEmbed(&StrongholdOutcome{Run: *run})},
			Components: strongholdComponents(*run, false),
			Reference:  replyReference(cc.message),
		},
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return err
	}
	if _, err = c.writeDB.UpdatesWhere(
		cc.ctx,
		&StrongholdRun{},
		map[string]any{"message_id": msg.ID},
		"id = ?",
		run.ID,
	); err != nil {
		cc.logger.WarnContext(cc.ctx, "error saving stronghold message", tint.Err(err))
	}
	return nil
}

// closeStrongholdMessage disables the buttons of a run that was closed
// without a click
func (c *CraftCord) closeStrongholdMessage(ctx context.Context, run StrongholdRun) {
	if run.MessageID == "" || run.ChannelID == "" {
		return
	}
	components := strongholdComponents(run, true)
	_, err := c.discord.session.ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         run.MessageID,
			Channel:    run.ChannelID,
			Components: &components,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		c.logger.WarnContext(ctx, "error closing stronghold message", "run_id", run.ID, tint.Err(err))
	}
}

// handleInteraction routes component interactions. Only stronghold
// buttons are handled.
func (c *CraftCord) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	runID, choice, ok := parseStrongholdButton(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}
	logger := c.logger.With("run_id", runID, "user_id", user.ID, "choice", choice)

	var outcome *StrongholdOutcome
	err := c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var err error
			outcome, err = chooseStrongholdPath(tx, c.rng, runID, user.ID, choice)
			return err
		},
	)
	if err != nil {
		content := userFacingMessage(err, c.RuntimeConfig().DiscordErrorMessage)
		if errors.Is(err, ErrRunNotActive) {
			content = "🏚️ This stronghold run is over."
		} else if errorKind(err) == KindInternal {
			logger.ErrorContext(ctx, "error advancing stronghold", tint.Err(err))
		}
		_ = c.discord.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: content,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
			discordgo.WithContext(ctx),
		)
		return
	}

	if !outcome.Run.Active() {
		c.metrics.StrongholdRuns.WithLabelValues(outcome.Run.State).Inc()
		logger.InfoContext(ctx, "stronghold run finished", "state", outcome.Run.State, "room", outcome.Run.Room)
	}
	_ = c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{strongholdEmbed(outcome)},
				Components: strongholdComponents(outcome.Run, !outcome.Run.Active()),
			},
		},
		discordgo.WithContext(ctx),
	)
}
